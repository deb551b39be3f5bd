// Package constraint 定义考试排程的硬约束规则与约束管理器
//
// 规则分两个层面：窗口层面（候选日期对是否可行）与指派层面
// （某考官能否在某日以某角色参加某考生的考试）。
package constraint

import (
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/rotation"
)

// Type 约束类型标识
type Type string

const (
	// 窗口层面
	TypeSelfDayShift        Type = "self_day_shift"
	TypeSameDepartmentPool  Type = "same_department_pool"
	TypeCrossDepartmentPool Type = "cross_department_pool"
	TypePriorAssignment     Type = "prior_assignment"

	// 指派层面
	TypeExaminerDepartment Type = "examiner_department"
	TypeExaminerDayShift   Type = "examiner_day_shift"
	TypeExaminerCommitted  Type = "examiner_committed"
)

// Category 约束类别
type Category = model.ConstraintCategory

const (
	CategoryHard = model.ConstraintHard
	CategorySoft = model.ConstraintSoft
)

// Constraint 约束接口
type Constraint interface {
	// Name 返回约束名称
	Name() string

	// Type 返回约束类型
	Type() Type

	// Category 返回约束类别
	Category() Category

	// Weight 返回约束权重 (1-100)
	Weight() int

	// Evaluate 评估上下文中的候选窗口
	// 返回：是否满足、惩罚值、违反详情
	Evaluate(ctx *Context) (valid bool, penalty int, details []ViolationDetail)

	// EvaluateAssignment 评估单条考官指派
	EvaluateAssignment(ctx *Context, p Placement) (valid bool, penalty int)
}

// Placement 单条考官指派
type Placement struct {
	CandidateID string     `json:"candidate_id"`
	Department  string     `json:"department"`
	Date        string     `json:"date"`
	Role        model.Role `json:"role"`
	ExaminerID  string     `json:"examiner_id"`
}

// ViolationDetail 约束违反详情
type ViolationDetail struct {
	ConstraintType Type   `json:"constraint_type"`
	ConstraintName string `json:"constraint_name"`
	ExaminerID     string `json:"examiner_id,omitempty"`
	Date           string `json:"date,omitempty"`
	Message        string `json:"message"`
	Severity       string `json:"severity"`
	Penalty        int    `json:"penalty"`
}

// Context 约束评估上下文
type Context struct {
	Candidate   *model.Candidate
	Date1       string
	Date2       string
	Examiners   []*model.Examiner
	Assignments []*model.Assignment
	Commitments model.Commitments
	Rotation    *rotation.Calculator

	// Relaxed 放宽副考官的异科室要求
	Relaxed bool

	examinerIndex model.ExaminerIndex
}

// NewContext 创建评估上下文
func NewContext(candidate *model.Candidate, examiners []*model.Examiner, assignments []*model.Assignment, rot *rotation.Calculator) *Context {
	if rot == nil {
		rot = rotation.NewCalculator()
	}
	if candidate == nil {
		candidate = &model.Candidate{}
	}
	return &Context{
		Candidate:     candidate,
		Examiners:     examiners,
		Assignments:   assignments,
		Commitments:   model.BuildCommitments(assignments),
		Rotation:      rot,
		examinerIndex: model.IndexExaminers(examiners),
	}
}

// WithWindow 返回指定窗口的上下文副本，共享索引
func (c *Context) WithWindow(date1, date2 string) *Context {
	cp := *c
	cp.Date1, cp.Date2 = date1, date2
	return &cp
}

// WithCandidate 返回指定考生的上下文副本，共享索引
func (c *Context) WithCandidate(candidate *model.Candidate) *Context {
	cp := *c
	cp.Candidate = candidate
	return &cp
}

// Dates 窗口日期
func (c *Context) Dates() []string {
	var dates []string
	for _, d := range []string{c.Date1, c.Date2} {
		if d != "" {
			dates = append(dates, d)
		}
	}
	return dates
}

// GetExaminer 获取考官
func (c *Context) GetExaminer(id string) *model.Examiner {
	return c.examinerIndex[id]
}

// FreeOnAll 考官在所有日期均非白班
func (c *Context) FreeOnAll(e *model.Examiner, dates []string) bool {
	for _, d := range dates {
		if !c.Rotation.Available(e.Group, d) {
			return false
		}
	}
	return true
}

// CommittedOnAny 考官在任一日期已被其他考生占用
func (c *Context) CommittedOnAny(e *model.Examiner, dates []string) bool {
	for _, d := range dates {
		if c.Commitments.IsCommitted(e.ID, d, c.Candidate.ID) {
			return true
		}
	}
	return false
}

// FreePool 在所有窗口日期均空闲的考官，sameDepartment 决定取同科室还是异科室
func (c *Context) FreePool(sameDepartment bool) []*model.Examiner {
	dates := c.Dates()
	var pool []*model.Examiner
	for _, e := range c.Examiners {
		if (e.Department == c.Candidate.Department) != sameDepartment {
			continue
		}
		if c.FreeOnAll(e, dates) {
			pool = append(pool, e)
		}
	}
	return pool
}

// Result 约束评估结果
type Result struct {
	IsValid        bool              `json:"is_valid"`
	TotalPenalty   int               `json:"total_penalty"`
	HardViolations []ViolationDetail `json:"hard_violations"`
	SoftViolations []ViolationDetail `json:"soft_violations"`
	Score          float64           `json:"score"` // 0-100
}

// Reasons 返回硬约束违反说明
func (r *Result) Reasons() []string {
	reasons := make([]string, 0, len(r.HardViolations))
	for _, v := range r.HardViolations {
		reasons = append(reasons, v.Message)
	}
	return reasons
}

// CalculateScore 计算约束满足度得分
func (r *Result) CalculateScore(maxPenalty int) {
	if maxPenalty == 0 {
		r.Score = 100.0
		return
	}
	r.Score = 100.0 * float64(maxPenalty-r.TotalPenalty) / float64(maxPenalty)
	if r.Score < 0 {
		r.Score = 0
	}
}
