package window

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/examplan/pkg/calendar"
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/weights"
)

// 2025-09-05 白班 C / 夜班 B；2025-09-06 白班 D / 夜班 C
// 两天均空闲：A（休息/休息）、B（夜班/休息）、行政
func scoringInput() *Input {
	return &Input{
		Candidate: &model.Candidate{ID: "c1", Name: "考生甲", Department: "一室", Group: "A",
			RecommendedDepartments: []string{"二室"}},
		Examiners: []*model.Examiner{
			{ID: "e1", Department: "一室", Group: "A", Workload: 1},
			{ID: "e2", Department: "一室", Group: "B", Workload: 2},
			{ID: "e3", Department: "二室", Group: "A", Workload: 1},
			{ID: "e4", Department: "三室", Group: "B", Workload: 0},
			{ID: "e5", Department: "三室", Group: "行政", Workload: 1},
			{ID: "e6", Department: "四室", Group: "C", Workload: 3},
		},
		AvailableDates: dateSpan("2025-09-01", 14),
	}
}

func TestScore_Deterministic(t *testing.T) {
	w := model.DateWindowCandidate{Date1: "2025-09-05", Date2: "2025-09-06", Strategy: model.StrategyConsecutive}
	weightsNorm := weights.DefaultNormalized()

	first, _ := NewScorer(nil).Score(scoringInput(), w, weightsNorm)
	for i := 0; i < 5; i++ {
		again, _ := NewScorer(nil).Score(scoringInput(), w, weightsNorm)
		assert.Equal(t, first.Score, again.Score)
		assert.Equal(t, first.Dimensions, again.Dimensions)
	}
}

func TestScore_DimensionRanges(t *testing.T) {
	w := model.DateWindowCandidate{Date1: "2025-09-05", Date2: "2025-09-06"}
	r, _ := NewScorer(nil).Score(scoringInput(), w, weights.DefaultNormalized())

	d := r.Dimensions
	for name, v := range map[string]float64{
		"resource":    d.ResourceAvailability,
		"workload":    d.WorkloadBalance,
		"conflict":    d.ConflictProbability,
		"flexibility": d.FutureFlexibility,
		"recommended": d.RecommendedMatch,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 1.0, name)
	}
	assert.GreaterOrEqual(t, d.ConsecutiveWorkStress, 0.0)
	assert.LessOrEqual(t, d.ConsecutiveWorkStress, 100.0)
	assert.Equal(t, 1.0, d.RecommendedMatch, "二室考官 e3 两天均空闲")
	assert.InDelta(t, 0.9, d.ConflictProbability, 1e-9, "09-06 为周六，仅有 0.1 的周末风险")
	assert.Contains(t, r.RiskFactors, RiskWeekend)
}

func TestScore_ConsecutiveWorkStress(t *testing.T) {
	s := NewScorer(nil)
	// A 组 09-04 夜班、09-07 白班，两端都会形成连续工作
	onlyA := []*model.Examiner{{ID: "a", Group: "A"}}
	assert.Equal(t, 0.0, s.consecutiveWorkStress(onlyA, "2025-09-05", "2025-09-06"))

	onlyB := []*model.Examiner{{ID: "b", Group: "B"}}
	assert.Equal(t, 100.0, s.consecutiveWorkStress(onlyB, "2025-09-05", "2025-09-06"))

	mixed := append(onlyA, onlyB...)
	assert.Equal(t, 50.0, s.consecutiveWorkStress(mixed, "2025-09-05", "2025-09-06"))
	assert.Equal(t, 100.0, s.consecutiveWorkStress(nil, "2025-09-05", "2025-09-06"))
}

func TestScore_HolidayRaisesConflictRisk(t *testing.T) {
	cal, err := calendar.New([]calendar.HolidayRule{{Name: "国庆", Dates: []string{"2025-10-01"}}})
	require.NoError(t, err)

	in := scoringInput()
	in.AvailableDates = dateSpan("2025-09-28", 10)
	w := model.DateWindowCandidate{Date1: "2025-10-01", Date2: "2025-10-02"}

	r, _ := NewScorer(nil, WithCalendar(cal)).Score(in, w, weights.DefaultNormalized())
	assert.InDelta(t, 0.7, r.Dimensions.ConflictProbability, 1e-9)
	assert.Contains(t, r.RiskFactors, RiskHoliday)
}

func TestScore_Interchange(t *testing.T) {
	in := scoringInput()
	in.Candidate.RecommendedDepartments = []string{"二室"}
	in.Examiners = []*model.Examiner{
		{ID: "e1", Department: "一室", Group: "A"},
		{ID: "e2", Department: "三室", Group: "A"},
	}
	w := model.DateWindowCandidate{Date1: "2025-09-05", Date2: "2025-09-06"}

	r, _ := NewScorer(nil).Score(in, w, weights.DefaultNormalized())
	assert.Equal(t, 1.0, r.Dimensions.RecommendedMatch, "一室与二室可互换")

	r, _ = NewScorer(nil, WithInterchange("", "")).Score(in, w, weights.DefaultNormalized())
	assert.Equal(t, 0.0, r.Dimensions.RecommendedMatch)
}

func TestScore_CacheHitsAndExpiry(t *testing.T) {
	now := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	s := NewScorer(nil, WithCacheTTL(time.Minute, func() time.Time { return now }))
	in := scoringInput()
	w := model.DateWindowCandidate{Date1: "2025-09-05", Date2: "2025-09-06"}

	_, hit := s.Score(in, w, weights.DefaultNormalized())
	assert.False(t, hit)
	_, hit = s.Score(in, w, weights.DefaultNormalized())
	assert.True(t, hit)
	assert.Equal(t, int64(1), s.CacheHits())

	now = now.Add(2 * time.Minute)
	_, hit = s.Score(in, w, weights.DefaultNormalized())
	assert.False(t, hit, "过期后应重新计算")
}

func TestScore_CacheDistinguishesSameSizedRosters(t *testing.T) {
	w := model.DateWindowCandidate{Date1: "2025-09-05", Date2: "2025-09-06"}
	roster := func(group string) []*model.Examiner {
		return []*model.Examiner{
			{ID: "e1", Department: "一室", Group: group},
			{ID: "e2", Department: "一室", Group: group},
			{ID: "e3", Department: "二室", Group: group},
			{ID: "e4", Department: "三室", Group: group},
		}
	}

	shared := NewScorer(nil)
	admin := scoringInput()
	admin.Examiners = roster("行政")
	_, hit := shared.Score(admin, w, weights.DefaultNormalized())
	require.False(t, hit)

	// 人数相同，但 C 组 09-05 白班，没有可用考官
	dayShift := scoringInput()
	dayShift.Examiners = roster("C")
	got, hit := shared.Score(dayShift, w, weights.DefaultNormalized())
	assert.False(t, hit, "不同考官名单不能命中缓存")

	want, _ := NewScorer(nil).Score(dayShift, w, weights.DefaultNormalized())
	assert.Equal(t, want.Score, got.Score)
	assert.Equal(t, want.Dimensions, got.Dimensions)
	assert.Equal(t, 0.0, got.Dimensions.ResourceAvailability)

	// 已有安排变化但数量不变
	withA := scoringInput()
	withA.Assignments = []*model.Assignment{{CandidateID: "c9", Days: []model.ExamDay{{Date: "2025-09-05", Primary: "e1", Secondary: "e3"}}}}
	withB := scoringInput()
	withB.Assignments = []*model.Assignment{{CandidateID: "c9", Days: []model.ExamDay{{Date: "2025-09-20", Primary: "e1", Secondary: "e3"}}}}
	_, hit = shared.Score(withA, w, weights.DefaultNormalized())
	require.False(t, hit)
	_, hit = shared.Score(withB, w, weights.DefaultNormalized())
	assert.False(t, hit)

	_, hit = shared.Score(scoringInputWith(withB.Assignments), w, weights.DefaultNormalized())
	assert.True(t, hit, "内容相同的输入应复用缓存")
}

func scoringInputWith(assignments []*model.Assignment) *Input {
	in := scoringInput()
	in.Assignments = assignments
	return in
}

func TestScoreAll_PreservesOrderAndSurvivesPanic(t *testing.T) {
	windows := NewGenerator(10).Generate(dateSpan("2025-09-01", 14))
	require.NotEmpty(t, windows)

	results, _, err := NewScorer(nil, WithWorkers(3)).ScoreAll(context.Background(), scoringInput(), windows, weights.DefaultNormalized())
	require.NoError(t, err)
	require.Len(t, results, len(windows))
	for i := range windows {
		assert.Equal(t, windows[i].Key(), results[i].Key(), "结果应保持输入顺序")
	}

	broken := scoringInput()
	broken.Examiners = append(broken.Examiners, nil)
	results, _, err = NewScorer(nil).ScoreAll(context.Background(), broken, windows, weights.DefaultNormalized())
	require.NoError(t, err, "单个窗口评分失败不应中断批次")
	for _, r := range results {
		assert.Equal(t, 0.0, r.Score)
		assert.Contains(t, r.RiskFactors, RiskScoringFailure)
	}
}

func TestScoreAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	windows := NewGenerator(10).Generate(dateSpan("2025-09-01", 14))
	_, _, err := NewScorer(nil).ScoreAll(ctx, scoringInput(), windows, weights.DefaultNormalized())
	assert.ErrorIs(t, err, context.Canceled)
}
