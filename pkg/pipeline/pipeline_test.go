package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/scheduler/resolver"
	"github.com/paiban/examplan/pkg/validator"
)

func roster() []*model.Examiner {
	return []*model.Examiner{
		{ID: "p1", Name: "内科甲", Department: "内科", Group: "none"},
		{ID: "p2", Name: "内科乙", Department: "内科", Group: "none"},
		{ID: "s1", Name: "外科甲", Department: "外科", Group: "none"},
		{ID: "s2", Name: "外科乙", Department: "外科", Group: "none"},
	}
}

func candidate(id, group string) *model.Candidate {
	return &model.Candidate{ID: id, Name: "考生" + id, Department: "内科", Group: group}
}

func TestSelectOptimalWindow(t *testing.T) {
	p := New(DefaultConfig())
	sel, err := p.SelectOptimalWindow(context.Background(), candidate("c1", "none"), roster(), SelectionContext{
		DateRange: &model.DateRange{StartDate: "2025-09-08", EndDate: "2025-09-12"},
	})
	require.NoError(t, err)

	require.True(t, sel.Success)
	require.NotNil(t, sel.SelectedWindow)
	assert.Equal(t, 1, model.DaysBetween(sel.SelectedWindow.Date1, sel.SelectedWindow.Date2))
	assert.Zero(t, sel.Depth)
	assert.NotEmpty(t, sel.Reasoning)
	assert.LessOrEqual(t, len(sel.Alternatives), 3)

	prev := sel.SelectedWindow.Score
	for _, alt := range sel.Alternatives {
		assert.LessOrEqual(t, alt.Score, prev, "得分不增")
		prev = alt.Score
	}
}

func TestSelectOptimalWindowWidensRange(t *testing.T) {
	p := New(DefaultConfig())
	sel, err := p.SelectOptimalWindow(context.Background(), candidate("c1", "B"), roster(), SelectionContext{
		DateRange: &model.DateRange{StartDate: "2025-09-08", EndDate: "2025-09-08"},
	})
	require.NoError(t, err)

	require.True(t, sel.Success)
	assert.Equal(t, 1, sel.Depth)
	require.NotNil(t, sel.DateRange)
	assert.Equal(t, model.DateRange{StartDate: "2025-09-01", EndDate: "2025-09-15"}, *sel.DateRange)
	for _, d := range sel.SelectedWindow.Dates() {
		assert.True(t, p.Rotation().Available("B", d), "考生本组值白班的日期不能入选: %s", d)
	}
}

func TestSelectOptimalWindowDepthIsBounded(t *testing.T) {
	// 没有异科室考官，任何窗口都无法通过校验
	onlyInternal := roster()[:2]

	p := New(DefaultConfig())
	sel, err := p.SelectOptimalWindow(context.Background(), candidate("c1", "none"), onlyInternal, SelectionContext{
		DateRange: &model.DateRange{StartDate: "2025-09-08", EndDate: "2025-09-09"},
	})
	require.NoError(t, err)
	assert.False(t, sel.Success)
	assert.Equal(t, 3, sel.Depth)
	assert.Nil(t, sel.SelectedWindow)
	assert.NotEmpty(t, sel.Rejected)
	assert.Contains(t, sel.Reasoning, "均未通过硬约束校验")

	cfg := DefaultConfig()
	cfg.MaxRecursionDepth = 0
	sel, err = New(cfg).SelectOptimalWindow(context.Background(), candidate("c1", "none"), onlyInternal, SelectionContext{
		DateRange: &model.DateRange{StartDate: "2025-09-08", EndDate: "2025-09-09"},
	})
	require.NoError(t, err)
	assert.False(t, sel.Success)
	assert.Zero(t, sel.Depth)
}

func TestSelectOptimalWindowExplicitDatesDoNotWiden(t *testing.T) {
	p := New(DefaultConfig())
	sel, err := p.SelectOptimalWindow(context.Background(), candidate("c1", "none"), roster(), SelectionContext{
		AvailableDates: []string{"2025-09-08", "2025-09-10"},
	})
	require.NoError(t, err)
	assert.False(t, sel.Success)
	assert.Zero(t, sel.Depth)
	assert.Contains(t, sel.Reasoning, "没有相邻的两天")
}

func TestSelectOptimalWindowRejectsInvalidInput(t *testing.T) {
	p := New(DefaultConfig())

	_, err := p.SelectOptimalWindow(context.Background(), &model.Candidate{ID: "c1"}, roster(), SelectionContext{})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidationFail, apperrors.AsAppError(err).Code)

	_, err = p.SelectOptimalWindow(context.Background(), nil, roster(), SelectionContext{})
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidInput))

	_, err = p.SelectOptimalWindow(context.Background(), candidate("c1", "none"), roster(), SelectionContext{
		AvailableDates: []string{"2025/09/08"},
	})
	assert.Error(t, err)
}

func TestRunAllocationOptimizer(t *testing.T) {
	dates := []string{"2025-09-08", "2025-09-09", "2025-09-10", "2025-09-11", "2025-09-12"}
	fixed := candidate("c3", "none")
	fixed.ExamDates = []string{"2025-09-11", "2025-09-12"}

	p := New(DefaultConfig())
	res, err := p.RunAllocationOptimizer(context.Background(),
		[]*model.Candidate{candidate("c1", "none"), candidate("c2", "none"), fixed}, roster(), dates)
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.Len(t, res.Allocations, 3)
	assert.Empty(t, res.Unallocated)
	require.Len(t, res.Windows, 2, "已指定日期的考生不再选择窗口")

	windows := make(map[string][]string)
	for _, w := range res.Windows {
		require.NotNil(t, w.Window)
		windows[w.CandidateID] = w.Window.Dates()
	}
	for _, a := range res.Allocations {
		assert.True(t, a.IsComplete())
		if a.CandidateID == "c3" {
			assert.Equal(t, fixed.ExamDates, a.Dates())
			continue
		}
		assert.Equal(t, windows[a.CandidateID], a.Dates())
	}

	conflicts := validator.NewConflictDetector(nil).DetectAll(res.Allocations, roster())
	assert.False(t, validator.HasBlocking(conflicts))
}

func TestBuildSolverRequest(t *testing.T) {
	p := New(DefaultConfig())
	rng := model.DateRange{StartDate: "2025-09-08", EndDate: "2025-09-12"}

	req, err := p.BuildSolverRequest(context.Background(), []*model.Candidate{candidate("c1", "none")}, roster(), rng, nil)
	require.NoError(t, err)
	assert.Equal(t, "2025-09-08", req.DateRangeStart)
	assert.Equal(t, "2025-09-12", req.DateRangeEnd)
	assert.NotEmpty(t, req.ConstraintWeights.Raw)
	assert.InDelta(t, 1.0, req.ConstraintWeights.Normalized.Sum(), 1e-9)
	assert.NotEmpty(t, req.WeightTable["hard"])
	assert.NotEmpty(t, req.WeightTable["soft"])
	assert.Equal(t, 30, req.SolverConfig.TimeLimitSeconds)

	_, err = p.BuildSolverRequest(context.Background(), nil, roster(), rng, nil)
	assert.Error(t, err)

	_, err = p.Solve(context.Background(), req)
	assert.True(t, apperrors.Is(err, apperrors.CodeSolverUnavailable))
}

func TestMonitorAndResolve(t *testing.T) {
	p := New(DefaultConfig())
	assignments := []*model.Assignment{
		{CandidateID: "c1", Department: "内科", Days: []model.ExamDay{
			{Date: "2025-09-08", Primary: "p1", Secondary: "s1", Backup: "p2"},
			{Date: "2025-09-09", Primary: "p1", Secondary: "s1", Backup: "p2"},
		}},
		{CandidateID: "c2", Department: "内科", Days: []model.ExamDay{
			{Date: "2025-09-08", Primary: "p1", Secondary: "s2"},
			{Date: "2025-09-09", Primary: "p1", Secondary: "s2"},
		}},
	}
	candidates := []*model.Candidate{candidate("c1", "none"), candidate("c2", "none")}

	check, err := p.Monitor(context.Background(), assignments, roster(), candidates)
	require.NoError(t, err)
	assert.Greater(t, check.State.ConflictRate, 0.0)
	assert.NotEmpty(t, check.Recommendations)

	conflicts, err := p.DetectConflicts(assignments, roster())
	require.NoError(t, err)
	var target *model.ConflictRecord
	for i := range conflicts {
		if conflicts[i].Kind == model.ConflictDoubleBooking {
			target = &conflicts[i]
			break
		}
	}
	require.NotNil(t, target)

	res, err := p.ResolveConflict(context.Background(), *target, resolver.State{
		Candidates:  candidates,
		Examiners:   roster(),
		Assignments: assignments,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, p.ResolutionStatistics()[res.Level].Successes)
}

func TestPreCheck(t *testing.T) {
	p := New(DefaultConfig())
	report, err := p.PreCheck([]*model.Candidate{candidate("c1", "none")}, roster(), []string{"2025-09-08", "2025-09-09"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.Score, 0.0)
	assert.LessOrEqual(t, report.Score, 100.0)

	_, err = p.PreCheck([]*model.Candidate{{ID: "bad"}}, roster(), nil)
	assert.Error(t, err)
}
