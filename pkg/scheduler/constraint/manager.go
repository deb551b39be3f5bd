package constraint

import (
	"fmt"
	"sort"
	"sync"

	"github.com/paiban/examplan/internal/metrics"
	"github.com/paiban/examplan/pkg/logger"
)

// Manager 约束管理器
type Manager struct {
	constraints []Constraint
	mu          sync.RWMutex
	logger      *logger.PipelineLogger
}

// NewManager 创建约束管理器
func NewManager() *Manager {
	return &Manager{
		constraints: make([]Constraint, 0),
		logger:      logger.NewPipelineLogger("constraint"),
	}
}

// NewDefaultManager 创建注册了全部默认规则的管理器
func NewDefaultManager() *Manager {
	m := NewManager()
	for _, c := range WindowRules() {
		m.Register(c)
	}
	for _, c := range PlacementRules() {
		m.Register(c)
	}
	return m
}

// Register 注册约束，同类型约束会被替换
func (m *Manager) Register(c Constraint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.constraints {
		if existing.Type() == c.Type() {
			m.constraints[i] = c
			return
		}
	}

	m.constraints = append(m.constraints, c)

	// 硬约束在前，权重高的在前
	sort.SliceStable(m.constraints, func(i, j int) bool {
		ci, cj := m.constraints[i], m.constraints[j]
		if ci.Category() != cj.Category() {
			return ci.Category() == CategoryHard
		}
		return ci.Weight() > cj.Weight()
	})
}

// Unregister 注销约束
func (m *Manager) Unregister(t Type) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, c := range m.constraints {
		if c.Type() == t {
			m.constraints = append(m.constraints[:i], m.constraints[i+1:]...)
			return
		}
	}
}

// GetConstraint 获取约束
func (m *Manager) GetConstraint(t Type) Constraint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.constraints {
		if c.Type() == t {
			return c
		}
	}
	return nil
}

// GetAll 获取所有约束
func (m *Manager) GetAll() []Constraint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Constraint, len(m.constraints))
	copy(result, m.constraints)
	return result
}

// GetByCategory 按类别获取约束
func (m *Manager) GetByCategory(cat Category) []Constraint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Constraint
	for _, c := range m.constraints {
		if c.Category() == cat {
			result = append(result, c)
		}
	}
	return result
}

// Evaluate 评估上下文窗口上的所有约束
//
// 单条规则 panic 时视为通过并记录日志。
func (m *Manager) Evaluate(ctx *Context) *Result {
	constraints := m.GetAll()

	result := &Result{
		IsValid:        true,
		HardViolations: make([]ViolationDetail, 0),
		SoftViolations: make([]ViolationDetail, 0),
	}

	maxPenalty := 0
	for _, c := range constraints {
		maxPenalty += c.Weight() * 2

		valid, penalty, details := m.safeEvaluate(c, ctx)
		if valid {
			metrics.IncCounter(metrics.MetricConstraintEvaluated, string(c.Type()), "pass")
			continue
		}
		metrics.IncCounter(metrics.MetricConstraintEvaluated, string(c.Type()), "violation")

		result.TotalPenalty += penalty
		for _, d := range details {
			if c.Category() == CategoryHard {
				result.IsValid = false
				result.HardViolations = append(result.HardViolations, d)
				m.logger.ConstraintViolation(c.Name(), d.Message)
			} else {
				result.SoftViolations = append(result.SoftViolations, d)
			}
		}
	}

	result.CalculateScore(maxPenalty)
	return result
}

func (m *Manager) safeEvaluate(c Constraint, ctx *Context) (valid bool, penalty int, details []ViolationDetail) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Recovered(c.Name(), r)
			valid, penalty, details = true, 0, nil
		}
	}()
	return c.Evaluate(ctx)
}

// EvaluateAssignment 评估单条指派
func (m *Manager) EvaluateAssignment(ctx *Context, p Placement) (bool, int, []ViolationDetail) {
	var violations []ViolationDetail
	totalPenalty := 0
	isValid := true

	for _, c := range m.GetAll() {
		valid, penalty := m.safeEvaluateAssignment(c, ctx, p)
		if valid {
			continue
		}
		totalPenalty += penalty
		violations = append(violations, ViolationDetail{
			ConstraintType: c.Type(),
			ConstraintName: c.Name(),
			ExaminerID:     p.ExaminerID,
			Date:           p.Date,
			Message:        fmt.Sprintf("违反约束: %s", c.Name()),
			Severity:       string(c.Category()),
			Penalty:        penalty,
		})
		if c.Category() == CategoryHard {
			isValid = false
		}
	}

	return isValid, totalPenalty, violations
}

func (m *Manager) safeEvaluateAssignment(c Constraint, ctx *Context, p Placement) (valid bool, penalty int) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Recovered(c.Name(), r)
			valid, penalty = true, 0
		}
	}()
	return c.EvaluateAssignment(ctx, p)
}

// CanAssign 检查指派是否满足全部硬约束
func (m *Manager) CanAssign(ctx *Context, p Placement) (bool, string) {
	for _, c := range m.GetByCategory(CategoryHard) {
		if valid, _ := m.safeEvaluateAssignment(c, ctx, p); !valid {
			return false, fmt.Sprintf("违反硬约束: %s", c.Name())
		}
	}
	return true, ""
}

// Clear 清除所有约束
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.constraints = make([]Constraint, 0)
}

// Count 返回约束数量
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.constraints)
}

// Summary 返回约束摘要
func (m *Manager) Summary() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hard := 0
	soft := 0
	for _, c := range m.constraints {
		if c.Category() == CategoryHard {
			hard++
		} else {
			soft++
		}
	}

	return map[string]interface{}{
		"total": len(m.constraints),
		"hard":  hard,
		"soft":  soft,
	}
}
