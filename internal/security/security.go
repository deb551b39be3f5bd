// Package security 提供 API 密钥校验与请求频率限制
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidAPIKey     = errors.New("无效的API密钥")
	ErrExpiredAPIKey     = errors.New("API密钥已过期")
	ErrRateLimitExceeded = errors.New("请求频率超限")
)

// 权限范围
const (
	ScopeSelect   = "select"   // 窗口选择与预检
	ScopeAllocate = "allocate" // 考官分配与均衡
	ScopeResolve  = "resolve"  // 冲突检测与解决
	ScopeMonitor  = "monitor"  // 状态监控与风险预测
	ScopeSolver   = "solver"   // 求解请求
	ScopeAll      = "*"
)

// APIKey API密钥
type APIKey struct {
	Key       string     `json:"-"`
	TenantID  string     `json:"tenant_id"`
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Enabled   bool       `json:"enabled"`
}

// IsValid 检查密钥是否有效
func (k *APIKey) IsValid() bool {
	if !k.Enabled {
		return false
	}
	if k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now()) {
		return false
	}
	return true
}

// HasScope 检查密钥是否有某权限
func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope || s == ScopeAll {
			return true
		}
	}
	return false
}

// APIKeyManager API密钥管理器
type APIKeyManager struct {
	keys map[string]*APIKey
	mu   sync.RWMutex
}

// NewAPIKeyManager 创建密钥管理器
func NewAPIKeyManager() *APIKeyManager {
	return &APIKeyManager{
		keys: make(map[string]*APIKey),
	}
}

// Register 登记已有密钥（来自配置），scopes 为空时授予全部权限
func (m *APIKeyManager) Register(key, tenantID, name string, scopes []string) *APIKey {
	if len(scopes) == 0 {
		scopes = []string{ScopeAll}
	}
	apiKey := &APIKey{
		Key:       key,
		TenantID:  tenantID,
		Name:      name,
		Scopes:    scopes,
		CreatedAt: time.Now(),
		Enabled:   true,
	}

	m.mu.Lock()
	m.keys[key] = apiKey
	m.mu.Unlock()
	return apiKey
}

// GenerateKey 生成新密钥
func (m *APIKeyManager) GenerateKey(tenantID, name string, scopes []string, expiresIn *time.Duration) (*APIKey, error) {
	raw, err := generateRandomString(32)
	if err != nil {
		return nil, err
	}

	apiKey := m.Register("ek_"+raw, tenantID, name, scopes)
	if expiresIn != nil {
		expiresAt := apiKey.CreatedAt.Add(*expiresIn)
		m.mu.Lock()
		apiKey.ExpiresAt = &expiresAt
		m.mu.Unlock()
	}
	return apiKey, nil
}

// Validate 验证密钥
func (m *APIKeyManager) Validate(key string) (*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *APIKey
	for k, apiKey := range m.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			found = apiKey
		}
	}
	if found == nil {
		return nil, ErrInvalidAPIKey
	}
	if !found.IsValid() {
		return nil, ErrExpiredAPIKey
	}
	return found, nil
}

// Revoke 撤销密钥
func (m *APIKeyManager) Revoke(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if apiKey, exists := m.keys[key]; exists {
		apiKey.Enabled = false
	}
}

// Count 已登记的密钥数
func (m *APIKeyManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// RateLimiter 滑动窗口频率限制器
type RateLimiter struct {
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
	stop     chan struct{}
	once     sync.Once
	mu       sync.Mutex
}

// NewRateLimiter 创建频率限制器，不再使用时调用 Stop
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow 按默认上限检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	return rl.AllowN(key, rl.limit)
}

// AllowN 按给定上限检查是否允许请求，limit<=0 时使用默认上限
func (rl *RateLimiter) AllowN(key string, limit int) bool {
	if limit <= 0 {
		limit = rl.limit
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	valid := prune(rl.requests[key], now.Add(-rl.window))
	if len(valid) >= limit {
		rl.requests[key] = valid
		return false
	}
	rl.requests[key] = append(valid, now)
	return true
}

// Stop 停止后台清理
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// cleanup 定期清理过期数据
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}

		rl.mu.Lock()
		windowStart := rl.now().Add(-rl.window)
		for key, reqs := range rl.requests {
			if valid := prune(reqs, windowStart); len(valid) == 0 {
				delete(rl.requests, key)
			} else {
				rl.requests[key] = valid
			}
		}
		rl.mu.Unlock()
	}
}

func prune(reqs []time.Time, windowStart time.Time) []time.Time {
	var valid []time.Time
	for _, t := range reqs {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	return valid
}

// ExtractAPIKey 从请求中提取API密钥
func ExtractAPIKey(r *http.Request) string {
	// 1. 从 Authorization header
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	// 2. 从 X-API-Key header
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	// 3. 从 query parameter
	if key := r.URL.Query().Get("api_key"); key != "" {
		return key
	}

	return ""
}

// Mask 遮盖密钥，用于日志
func Mask(key string) string {
	if len(key) <= 6 {
		return "***"
	}
	return key[:6] + "***"
}

// generateRandomString 生成随机字符串
func generateRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes)[:length], nil
}
