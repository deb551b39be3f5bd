package constraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/examplan/pkg/model"
)

// 2025-09-04 白班 B / 夜班 A；2025-09-05 白班 C / 夜班 B
// 两天都不值白班的班组：A、D
func fixtureExaminers() []*model.Examiner {
	return []*model.Examiner{
		{ID: "e1", Name: "张一", Department: "一室", Group: "D"},
		{ID: "e2", Name: "李二", Department: "二室", Group: "A"},
		{ID: "e3", Name: "王三", Department: "一室", Group: "B"},
		{ID: "e4", Name: "赵四", Department: "三室", Group: "行政"},
	}
}

func TestSelfDayShift(t *testing.T) {
	m := NewDefaultManager()

	onDuty := &model.Candidate{ID: "c1", Name: "考生甲", Department: "一室", Group: "B"}
	ctx := NewContext(onDuty, fixtureExaminers(), nil, nil).WithWindow("2025-09-04", "2025-09-05")
	result := m.Evaluate(ctx)
	require.False(t, result.IsValid, "考生所在班组值白班时必须拒绝")
	assert.Equal(t, TypeSelfDayShift, result.HardViolations[0].ConstraintType)

	free := &model.Candidate{ID: "c2", Name: "考生乙", Department: "一室", Group: "A"}
	ctx = NewContext(free, fixtureExaminers(), nil, nil).WithWindow("2025-09-04", "2025-09-05")
	assert.True(t, m.Evaluate(ctx).IsValid)
}

func TestDepartmentPools(t *testing.T) {
	m := NewDefaultManager()
	candidate := &model.Candidate{ID: "c1", Department: "一室", Group: "A"}

	// 仅保留值白班的同科室考官
	examiners := []*model.Examiner{
		{ID: "e3", Department: "一室", Group: "B"},
		{ID: "e2", Department: "二室", Group: "A"},
	}
	result := m.Evaluate(NewContext(candidate, examiners, nil, nil).WithWindow("2025-09-04", "2025-09-05"))
	require.False(t, result.IsValid)
	assert.Equal(t, TypeSameDepartmentPool, result.HardViolations[0].ConstraintType)

	examiners = []*model.Examiner{{ID: "e1", Department: "一室", Group: "D"}}
	result = m.Evaluate(NewContext(candidate, examiners, nil, nil).WithWindow("2025-09-04", "2025-09-05"))
	require.False(t, result.IsValid)
	assert.Equal(t, TypeCrossDepartmentPool, result.HardViolations[0].ConstraintType)
}

func TestPriorAssignment(t *testing.T) {
	m := NewDefaultManager()
	candidate := &model.Candidate{ID: "c1", Department: "一室", Group: "A"}
	examiners := []*model.Examiner{
		{ID: "e1", Department: "一室", Group: "D"},
		{ID: "e2", Department: "二室", Group: "A"},
	}
	existing := []*model.Assignment{{
		CandidateID: "other",
		Department:  "一室",
		Days:        []model.ExamDay{{Date: "2025-09-05", Primary: "e1"}},
	}}

	result := m.Evaluate(NewContext(candidate, examiners, existing, nil).WithWindow("2025-09-04", "2025-09-05"))
	require.False(t, result.IsValid, "同科室空闲考官全部被占用时应拒绝")
	assert.Equal(t, TypePriorAssignment, result.HardViolations[0].ConstraintType)

	own := []*model.Assignment{{
		CandidateID: "c1",
		Days:        []model.ExamDay{{Date: "2025-09-04"}},
	}}
	result = m.Evaluate(NewContext(candidate, examiners, own, nil).WithWindow("2025-09-04", "2025-09-05"))
	assert.False(t, result.IsValid, "考生当日已有考试时应拒绝")
}

func TestPlacementRules(t *testing.T) {
	m := NewDefaultManager()
	candidate := &model.Candidate{ID: "c1", Department: "一室", Group: "A"}
	existing := []*model.Assignment{{
		CandidateID: "other",
		Days:        []model.ExamDay{{Date: "2025-09-04", Secondary: "e4"}},
	}}
	ctx := NewContext(candidate, fixtureExaminers(), existing, nil)

	cases := []struct {
		name string
		p    Placement
		ok   bool
	}{
		{"同科室主考官", Placement{CandidateID: "c1", Department: "一室", Date: "2025-09-04", Role: model.RolePrimary, ExaminerID: "e1"}, true},
		{"异科室主考官", Placement{CandidateID: "c1", Department: "一室", Date: "2025-09-04", Role: model.RolePrimary, ExaminerID: "e2"}, false},
		{"同科室副考官", Placement{CandidateID: "c1", Department: "一室", Date: "2025-09-04", Role: model.RoleSecondary, ExaminerID: "e1"}, false},
		{"白班考官", Placement{CandidateID: "c1", Department: "一室", Date: "2025-09-04", Role: model.RolePrimary, ExaminerID: "e3"}, false},
		{"已被占用", Placement{CandidateID: "c1", Department: "一室", Date: "2025-09-04", Role: model.RoleSecondary, ExaminerID: "e4"}, false},
		{"次日可用", Placement{CandidateID: "c1", Department: "一室", Date: "2025-09-05", Role: model.RoleSecondary, ExaminerID: "e4"}, true},
		{"未知考官", Placement{CandidateID: "c1", Department: "一室", Date: "2025-09-04", Role: model.RoleBackup, ExaminerID: "x"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, _ := m.CanAssign(ctx, tc.p)
			assert.Equal(t, tc.ok, ok)
		})
	}

	relaxed := *ctx
	relaxed.Relaxed = true
	ok, _ := m.CanAssign(&relaxed, Placement{CandidateID: "c1", Department: "一室", Date: "2025-09-04", Role: model.RoleSecondary, ExaminerID: "e1"})
	assert.True(t, ok, "放宽时允许同科室副考官")
}
