package window

import (
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/scheduler/constraint"
)

// Verdict 硬约束校验结论
type Verdict struct {
	Window  *model.DateWindowCandidate `json:"window"`
	Valid   bool                       `json:"valid"`
	Reasons []string                   `json:"reasons,omitempty"`
}

// Validator 窗口硬约束校验器
type Validator struct {
	manager *constraint.Manager
}

// NewValidator 创建校验器，manager 为 nil 时注册默认窗口规则
func NewValidator(manager *constraint.Manager) *Validator {
	if manager == nil {
		manager = constraint.NewManager()
		for _, c := range constraint.WindowRules() {
			manager.Register(c)
		}
	}
	return &Validator{manager: manager}
}

// Validate 校验单个窗口
func (v *Validator) Validate(base *constraint.Context, w *model.DateWindowCandidate) Verdict {
	result := v.manager.Evaluate(base.WithWindow(w.Date1, w.Date2))
	return Verdict{Window: w, Valid: result.IsValid, Reasons: result.Reasons()}
}

// Filter 过滤窗口，返回通过的窗口与被拒绝的结论，保持输入顺序
func (v *Validator) Filter(base *constraint.Context, windows []*model.DateWindowCandidate) ([]*model.DateWindowCandidate, []Verdict) {
	var passed []*model.DateWindowCandidate
	var rejected []Verdict
	for _, w := range windows {
		verdict := v.Validate(base, w)
		if verdict.Valid {
			passed = append(passed, w)
		} else {
			rejected = append(rejected, verdict)
		}
	}
	return passed, rejected
}
