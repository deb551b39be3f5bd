package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/scheduler/allocator"
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

func exam(candidateID, primary, secondary, backup string, dates ...string) *model.Assignment {
	a := &model.Assignment{CandidateID: candidateID, Department: "内科"}
	for _, d := range dates {
		a.Days = append(a.Days, model.ExamDay{Date: d, Primary: primary, Secondary: secondary, Backup: backup})
	}
	return a
}

func firstOfKind(t *testing.T, conflicts []model.ConflictRecord, kind model.ConflictKind) model.ConflictRecord {
	t.Helper()
	for _, c := range conflicts {
		if c.Kind == kind {
			return c
		}
	}
	t.Fatalf("未找到 %s 冲突", kind)
	return model.ConflictRecord{}
}

func TestResolveDoubleBookingByBackupPromotion(t *testing.T) {
	state := State{
		Candidates: []*model.Candidate{
			{ID: "c1", Name: "考生1", Department: "内科"},
			{ID: "c2", Name: "考生2", Department: "内科"},
		},
		Examiners: roster(),
		Assignments: []*model.Assignment{
			exam("c1", "p1", "s1", "p2", "2025-09-08", "2025-09-09"),
			exam("c2", "p1", "s2", "", "2025-09-08", "2025-09-09"),
		},
	}
	conflicts := validator.NewConflictDetector(nil).DetectAll(state.Assignments, state.Examiners)
	target := firstOfKind(t, conflicts, model.ConflictDoubleBooking)
	require.Equal(t, "2025-09-08", target.Date)

	r := New(allocator.DefaultConfig(), nil, nil)
	res, err := r.Resolve(context.Background(), target, state)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, LevelParameterTuning, res.Level)
	require.Len(t, res.Attempts, 1, "L1 成功后不再升级")
	assert.Contains(t, res.Changes, Change{CandidateID: "c1", Date: "2025-09-08", Role: model.RolePrimary, From: "p1", To: "p2"})

	// 输入不被修改
	assert.Equal(t, "p1", state.Assignments[0].Days[0].Primary)

	stats := r.Statistics()
	assert.Equal(t, LevelStats{Attempts: 1, Successes: 1, SuccessRate: 1}, stats[LevelParameterTuning])
}

func TestResolveUnallocatedByLocalReschedule(t *testing.T) {
	state := State{
		Candidates: []*model.Candidate{
			{ID: "c3", Name: "考生3", Department: "内科", ExamDates: []string{"2025-09-10", "2025-09-11"}},
		},
		Examiners: roster()[:3],
	}
	target := model.ConflictRecord{ID: "x", Kind: model.ConflictUnallocated, AffectedEntities: []string{"c3"}}

	r := New(allocator.DefaultConfig(), nil, nil)
	res, err := r.Resolve(context.Background(), target, state)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, LevelLocalReschedule, res.Level)
	require.Len(t, res.Attempts, 2)
	assert.False(t, res.Attempts[0].Success)
	require.Len(t, res.Assignments, 1)
	assert.True(t, res.Assignments[0].IsComplete())
	assert.NotEmpty(t, res.Changes)
	for _, c := range res.Changes {
		assert.Empty(t, c.From)
	}
}

func TestResolveExhaustedRequiresManualIntervention(t *testing.T) {
	state := State{
		Candidates: []*model.Candidate{
			{ID: "c4", Name: "考生4", Department: "儿科", ExamDates: []string{"2025-09-10", "2025-09-11"}},
		},
		Examiners: roster(),
	}
	target := model.ConflictRecord{ID: "y", Kind: model.ConflictUnallocated, AffectedEntities: []string{"c4"}}

	r := New(allocator.DefaultConfig(), nil, nil)
	res, err := r.Resolve(context.Background(), target, state)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, LevelManual, res.Level)
	assert.Equal(t, ManualInterventionRequired, res.Message)
	require.Len(t, res.Attempts, len(Levels))
	for i, a := range res.Attempts {
		assert.Equal(t, Levels[i], a.Level, "按固定顺序升级")
		assert.False(t, a.Success)
	}

	history := r.History()
	assert.Len(t, history, 4)
	for _, level := range Levels {
		assert.Equal(t, 1, r.Statistics()[level].Attempts)
		assert.Zero(t, r.Statistics()[level].Successes)
	}
}

func TestResolveAlreadyClear(t *testing.T) {
	r := New(allocator.DefaultConfig(), nil, nil)
	res, err := r.Resolve(context.Background(), model.ConflictRecord{
		Kind:             model.ConflictDoubleBooking,
		Date:             "2025-09-08",
		AffectedEntities: []string{"p1"},
	}, State{Examiners: roster()})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, LevelAlreadyResolved, res.Level)
	assert.Empty(t, res.Attempts)
	assert.Empty(t, r.History())
	assert.Empty(t, r.Statistics(), "未执行的级别不计入统计")
}

func TestResolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state := State{
		Candidates: []*model.Candidate{{ID: "c5", Department: "内科", ExamDates: []string{"2025-09-10", "2025-09-11"}}},
		Examiners:  roster(),
	}
	r := New(allocator.DefaultConfig(), nil, nil)
	_, err := r.Resolve(ctx, model.ConflictRecord{Kind: model.ConflictUnallocated, AffectedEntities: []string{"c5"}}, state)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatches(t *testing.T) {
	target := model.ConflictRecord{Kind: model.ConflictDayShift, Date: "2025-09-08", AffectedEntities: []string{"c1", "p1"}}

	assert.True(t, matches(target, model.ConflictRecord{Kind: model.ConflictDayShift, Date: "2025-09-08", AffectedEntities: []string{"p1"}}))
	assert.False(t, matches(target, model.ConflictRecord{Kind: model.ConflictDayShift, Date: "2025-09-09", AffectedEntities: []string{"p1"}}))
	assert.False(t, matches(target, model.ConflictRecord{Kind: model.ConflictDoubleBooking, Date: "2025-09-08", AffectedEntities: []string{"p1"}}))
	assert.False(t, matches(target, model.ConflictRecord{Kind: model.ConflictDayShift, Date: "2025-09-08", AffectedEntities: []string{"p9"}}))
}
