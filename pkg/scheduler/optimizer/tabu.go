package optimizer

import "sync"

// TabuList 禁忌表，容量满时淘汰最旧的键
type TabuList[K comparable] struct {
	items   map[K]struct{}
	order   []K
	maxSize int
	mu      sync.RWMutex
}

// NewTabuList 创建禁忌表
func NewTabuList[K comparable](size int) *TabuList[K] {
	if size <= 0 {
		size = 16
	}
	return &TabuList[K]{
		items:   make(map[K]struct{}),
		order:   make([]K, 0, size),
		maxSize: size,
	}
}

// Add 添加到禁忌表
func (t *TabuList[K]) Add(key K) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.items[key]; exists {
		return
	}

	// 超出容量时移除最旧的
	if len(t.order) >= t.maxSize {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.items, oldest)
	}

	t.items[key] = struct{}{}
	t.order = append(t.order, key)
}

// Contains 检查是否在禁忌表中
func (t *TabuList[K]) Contains(key K) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.items[key]
	return exists
}

// Len 当前条目数
func (t *TabuList[K]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Clear 清空禁忌表
func (t *TabuList[K]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = make(map[K]struct{})
	t.order = t.order[:0]
}
