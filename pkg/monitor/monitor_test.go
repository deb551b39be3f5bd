package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/examplan/pkg/model"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]model.Alert
	err     error
}

func (s *recordingSink) Publish(_ context.Context, alerts []model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, alerts)
	return s.err
}

func (s *recordingSink) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

var fixedNow = time.Date(2025, 9, 8, 9, 0, 0, 0, time.UTC)

func exam(candidateID, primary, secondary string, dates ...string) *model.Assignment {
	a := &model.Assignment{CandidateID: candidateID, Department: "内科"}
	for _, d := range dates {
		a.Days = append(a.Days, model.ExamDay{Date: d, Primary: primary, Secondary: secondary})
	}
	return a
}

func adminRoster() []*model.Examiner {
	return []*model.Examiner{
		{ID: "p1", Name: "内科甲", Department: "内科", Group: "none"},
		{ID: "p2", Name: "内科乙", Department: "内科", Group: "none"},
		{ID: "s1", Name: "外科甲", Department: "外科", Group: "none"},
		{ID: "s2", Name: "外科乙", Department: "外科", Group: "none"},
	}
}

func unbalanced() Snapshot {
	return Snapshot{
		Examiners: adminRoster(),
		Assignments: []*model.Assignment{
			exam("c1", "p1", "s1", "2025-09-08", "2025-09-09"),
			exam("c2", "p1", "s1", "2025-09-10", "2025-09-11"),
			exam("c3", "p1", "s1", "2025-09-12", "2025-09-13"),
		},
	}
}

func balanced() Snapshot {
	return Snapshot{
		Examiners: adminRoster(),
		Assignments: []*model.Assignment{
			exam("c1", "p1", "s1", "2025-09-08", "2025-09-09"),
			exam("c2", "p2", "s2", "2025-09-08", "2025-09-09"),
		},
	}
}

func TestCheckRaisesOnceAndResolves(t *testing.T) {
	sink := &recordingSink{}
	m := New(Thresholds{
		ResourceUsage:    0.99,
		WorkloadVariance: 2,
		ConflictRate:     0.99,
		ContinuityRate:   0.01,
		MeanFatigue:      0.99,
	}, WithSink(sink), WithClock(func() time.Time { return fixedNow }))

	first := m.Check(context.Background(), unbalanced())
	assert.InDelta(t, 9.0, first.State.WorkloadVariance, 1e-9)
	assert.InDelta(t, 0.5, first.State.ResourceUsage, 1e-9)
	assert.InDelta(t, 0.5, first.State.MeanFatigue, 1e-9)
	require.Len(t, first.NewAlerts, 1)
	alert := first.NewAlerts[0]
	assert.Equal(t, model.AlertWorkloadImbalance, alert.Kind)
	assert.Equal(t, model.RiskCritical, alert.Level)
	assert.Equal(t, 9.0, alert.Value)
	assert.Equal(t, 2.0, alert.Threshold)
	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, 1, sink.calls())

	second := m.Check(context.Background(), unbalanced())
	assert.Empty(t, second.NewAlerts, "未解除的同类告警不重复产生")
	assert.Len(t, second.ActiveAlerts, 1)
	assert.Equal(t, 1, sink.calls())

	third := m.Check(context.Background(), balanced())
	require.Len(t, third.ResolvedAlerts, 1)
	resolved := third.ResolvedAlerts[0]
	assert.Equal(t, alert.ID, resolved.ID)
	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, fixedNow, *resolved.ResolvedAt)
	assert.Empty(t, third.ActiveAlerts)
	assert.Equal(t, []string{"系统运行正常"}, third.Recommendations)

	fourth := m.Check(context.Background(), unbalanced())
	require.Len(t, fourth.NewAlerts, 1, "解除后再次越限应重新告警")
	assert.NotEqual(t, alert.ID, fourth.NewAlerts[0].ID)

	history := m.History()
	require.Len(t, history, 2)
	assert.Equal(t, alert.ID, history[0].ID)
	assert.True(t, history[0].Resolved, "历史记录应反映解除状态")
	require.NotNil(t, history[0].ResolvedAt)
	assert.Equal(t, fixedNow, *history[0].ResolvedAt)
	assert.False(t, history[1].Resolved)
}

func TestCheckConflictRateAndResourceUsage(t *testing.T) {
	snap := Snapshot{
		Examiners: []*model.Examiner{
			{ID: "p1", Department: "内科", Group: "none"},
			{ID: "s1", Department: "外科", Group: "none"},
		},
		Candidates: []*model.Candidate{
			{ID: "c1", Department: "内科"},
			{ID: "c2", Department: "内科"},
		},
		Assignments: []*model.Assignment{exam("c1", "p1", "s1", "2025-09-08", "2025-09-09")},
	}

	m := New(DefaultThresholds(), WithSink(&recordingSink{}), WithClock(func() time.Time { return fixedNow }))
	res := m.Check(context.Background(), snap)

	assert.InDelta(t, 0.5, res.State.ConflictRate, 1e-9, "未分配的考生计入冲突率")
	assert.InDelta(t, 1.0, res.State.ResourceUsage, 1e-9)
	assert.Equal(t, 1, res.State.TotalAssignments)
	assert.Equal(t, 2, res.State.ActiveExaminers)
	assert.Equal(t, fixedNow, res.State.Timestamp)

	require.Len(t, res.NewAlerts, 2)
	assert.Equal(t, model.AlertResourceUsage, res.NewAlerts[0].Kind)
	assert.Equal(t, model.RiskMedium, res.NewAlerts[0].Level)
	assert.Equal(t, model.AlertConflictRate, res.NewAlerts[1].Kind)
	assert.Equal(t, model.RiskCritical, res.NewAlerts[1].Level)

	require.Len(t, res.ActiveAlerts, 2)
	assert.Equal(t, model.AlertConflictRate, res.ActiveAlerts[0].Kind, "按级别降序")
	assert.Len(t, res.Recommendations, 2)
}

func TestCheckContinuityShortfall(t *testing.T) {
	snap := Snapshot{
		Examiners:   adminRoster(),
		Assignments: []*model.Assignment{exam("c1", "p1", "s1", "2025-09-08", "2025-09-10")},
	}
	m := New(DefaultThresholds(), WithSink(&recordingSink{}))
	res := m.Check(context.Background(), snap)

	assert.Zero(t, res.State.ContinuityRate)
	var found bool
	for _, a := range res.NewAlerts {
		if a.Kind == model.AlertContinuity {
			found = true
			assert.Equal(t, model.RiskCritical, a.Level)
		}
	}
	assert.True(t, found, "日期不连续应触发连续性告警")
}

func TestCheckSinkFailureDoesNotFail(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	m := New(Thresholds{WorkloadVariance: 1}, WithSink(sink))
	res := m.Check(context.Background(), unbalanced())
	assert.NotEmpty(t, res.NewAlerts)
	assert.Equal(t, 1, sink.calls())
}

func TestRuleLevel(t *testing.T) {
	upper := rule{threshold: 2}
	assert.Equal(t, model.RiskMedium, upper.level(2.5))
	assert.Equal(t, model.RiskHigh, upper.level(3))
	assert.Equal(t, model.RiskCritical, upper.level(4))

	lower := rule{threshold: 0.8, below: true}
	assert.True(t, lower.breached(0.7))
	assert.False(t, lower.breached(0.8))
	assert.Equal(t, model.RiskMedium, lower.level(0.7))
	assert.Equal(t, model.RiskHigh, lower.level(0.5))
	assert.Equal(t, model.RiskCritical, lower.level(0.3))
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int
	snapshot := func(context.Context) (Snapshot, error) {
		calls++
		if calls == 1 {
			return Snapshot{}, errors.New("storage unavailable")
		}
		cancel()
		return balanced(), nil
	}

	m := New(DefaultThresholds(), WithSink(&recordingSink{}))
	err := m.Run(ctx, time.Millisecond, snapshot)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls, "获取数据失败不终止监控")
}

func TestMultiSink(t *testing.T) {
	a, b := &recordingSink{err: errors.New("a")}, &recordingSink{}
	err := MultiSink{a, b}.Publish(context.Background(), []model.Alert{{ID: "x"}})
	assert.EqualError(t, err, "a")
	assert.Equal(t, 1, a.calls())
	assert.Equal(t, 1, b.calls())
}
