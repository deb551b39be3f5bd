package constraint

import (
	"fmt"

	"github.com/paiban/examplan/pkg/model"
)

// baseConstraint 规则公共字段
type baseConstraint struct {
	name     string
	typ      Type
	category Category
	weight   int
}

func (b *baseConstraint) Name() string       { return b.name }
func (b *baseConstraint) Type() Type         { return b.typ }
func (b *baseConstraint) Category() Category { return b.category }
func (b *baseConstraint) Weight() int        { return b.weight }

func (b *baseConstraint) violation(date, examinerID, msg string) ViolationDetail {
	return ViolationDetail{
		ConstraintType: b.typ,
		ConstraintName: b.name,
		ExaminerID:     examinerID,
		Date:           date,
		Message:        msg,
		Severity:       "error",
		Penalty:        b.weight,
	}
}

// windowOnly 仅作用于窗口层面的规则
type windowOnly struct{}

func (windowOnly) EvaluateAssignment(*Context, Placement) (bool, int) { return true, 0 }

// placementOnly 仅作用于指派层面的规则
type placementOnly struct{}

func (placementOnly) Evaluate(*Context) (bool, int, []ViolationDetail) { return true, 0, nil }

// SelfDayShift 考生本人在任一考试日值白班
type SelfDayShift struct {
	baseConstraint
	windowOnly
}

// NewSelfDayShift 创建考生白班冲突规则
func NewSelfDayShift() *SelfDayShift {
	return &SelfDayShift{baseConstraint: baseConstraint{
		name: "考生白班冲突", typ: TypeSelfDayShift, category: CategoryHard, weight: 100,
	}}
}

func (r *SelfDayShift) Evaluate(ctx *Context) (bool, int, []ViolationDetail) {
	var details []ViolationDetail
	for _, d := range ctx.Dates() {
		if ctx.Rotation.Status(ctx.Candidate.Group, d) == model.StatusDayShift {
			details = append(details, r.violation(d, "",
				fmt.Sprintf("考生所在%s组于 %s 值白班", ctx.Candidate.Group, d)))
		}
	}
	return len(details) == 0, len(details) * r.weight, details
}

// DepartmentPool 主考官/副考官候选池为空
type DepartmentPool struct {
	baseConstraint
	windowOnly
	same bool
}

// NewSameDepartmentPool 创建同科室考官池规则
func NewSameDepartmentPool() *DepartmentPool {
	return &DepartmentPool{baseConstraint: baseConstraint{
		name: "同科室考官不足", typ: TypeSameDepartmentPool, category: CategoryHard, weight: 95,
	}, same: true}
}

// NewCrossDepartmentPool 创建异科室考官池规则
func NewCrossDepartmentPool() *DepartmentPool {
	return &DepartmentPool{baseConstraint: baseConstraint{
		name: "异科室考官不足", typ: TypeCrossDepartmentPool, category: CategoryHard, weight: 90,
	}}
}

func (r *DepartmentPool) Evaluate(ctx *Context) (bool, int, []ViolationDetail) {
	if len(ctx.FreePool(r.same)) > 0 {
		return true, 0, nil
	}
	kind := "异科室"
	if r.same {
		kind = "同科室（" + ctx.Candidate.Department + "）"
	}
	msg := fmt.Sprintf("%s 与 %s 两天均无空闲的%s考官", ctx.Date1, ctx.Date2, kind)
	return false, r.weight, []ViolationDetail{r.violation(ctx.Date1, "", msg)}
}

// PriorAssignment 与已有安排冲突
type PriorAssignment struct {
	baseConstraint
	windowOnly
}

// NewPriorAssignment 创建已有安排冲突规则
func NewPriorAssignment() *PriorAssignment {
	return &PriorAssignment{baseConstraint: baseConstraint{
		name: "已有安排冲突", typ: TypePriorAssignment, category: CategoryHard, weight: 85,
	}}
}

func (r *PriorAssignment) Evaluate(ctx *Context) (bool, int, []ViolationDetail) {
	var details []ViolationDetail
	dates := ctx.Dates()

	for _, d := range dates {
		if model.HasExamOn(ctx.Assignments, ctx.Candidate.ID, d) {
			details = append(details, r.violation(d, "", fmt.Sprintf("考生在 %s 已有考试安排", d)))
		}
	}

	for _, same := range []bool{true, false} {
		pool := ctx.FreePool(same)
		if len(pool) == 0 {
			continue
		}
		exhausted := true
		for _, e := range pool {
			if !ctx.CommittedOnAny(e, dates) {
				exhausted = false
				break
			}
		}
		if exhausted {
			kind := "异科室"
			if same {
				kind = "同科室"
			}
			details = append(details, r.violation(ctx.Date1, "",
				fmt.Sprintf("空闲的%s考官均已被其他考试占用", kind)))
		}
	}
	return len(details) == 0, len(details) * r.weight, details
}

// ExaminerDepartment 主考官须同科室，副考官须异科室（放宽时允许同科室）
type ExaminerDepartment struct {
	baseConstraint
	placementOnly
}

// NewExaminerDepartment 创建考官科室规则
func NewExaminerDepartment() *ExaminerDepartment {
	return &ExaminerDepartment{baseConstraint: baseConstraint{
		name: "考官科室规则", typ: TypeExaminerDepartment, category: CategoryHard, weight: 100,
	}}
}

func (r *ExaminerDepartment) EvaluateAssignment(ctx *Context, p Placement) (bool, int) {
	e := ctx.GetExaminer(p.ExaminerID)
	if e == nil {
		return false, r.weight
	}
	switch p.Role {
	case model.RolePrimary:
		if e.Department != p.Department {
			return false, r.weight
		}
	case model.RoleSecondary:
		if e.Department == p.Department && !ctx.Relaxed {
			return false, r.weight
		}
	}
	return true, 0
}

// ExaminerDayShift 考官当日值白班
type ExaminerDayShift struct {
	baseConstraint
	placementOnly
}

// NewExaminerDayShift 创建考官白班规则
func NewExaminerDayShift() *ExaminerDayShift {
	return &ExaminerDayShift{baseConstraint: baseConstraint{
		name: "考官白班冲突", typ: TypeExaminerDayShift, category: CategoryHard, weight: 100,
	}}
}

func (r *ExaminerDayShift) EvaluateAssignment(ctx *Context, p Placement) (bool, int) {
	e := ctx.GetExaminer(p.ExaminerID)
	if e == nil || !ctx.Rotation.Available(e.Group, p.Date) {
		return false, r.weight
	}
	return true, 0
}

// ExaminerCommitted 考官当日已被其他考生占用
type ExaminerCommitted struct {
	baseConstraint
	placementOnly
}

// NewExaminerCommitted 创建考官重复占用规则
func NewExaminerCommitted() *ExaminerCommitted {
	return &ExaminerCommitted{baseConstraint: baseConstraint{
		name: "考官重复安排", typ: TypeExaminerCommitted, category: CategoryHard, weight: 100,
	}}
}

func (r *ExaminerCommitted) EvaluateAssignment(ctx *Context, p Placement) (bool, int) {
	if ctx.Commitments.IsCommitted(p.ExaminerID, p.Date, p.CandidateID) {
		return false, r.weight
	}
	return true, 0
}

// WindowRules 窗口层面的默认规则
func WindowRules() []Constraint {
	return []Constraint{
		NewSelfDayShift(),
		NewSameDepartmentPool(),
		NewCrossDepartmentPool(),
		NewPriorAssignment(),
	}
}

// PlacementRules 指派层面的默认规则
func PlacementRules() []Constraint {
	return []Constraint{
		NewExaminerDepartment(),
		NewExaminerDayShift(),
		NewExaminerCommitted(),
	}
}
