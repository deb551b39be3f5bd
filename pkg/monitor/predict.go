package monitor

import (
	"fmt"

	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/rotation"
	"github.com/paiban/examplan/pkg/stats"
)

const (
	// projectionFactor 工作量线性外推系数
	projectionFactor = 1.2
	// pressureCeiling 考生/可用考官比超过该值视为必然冲突
	pressureCeiling = 2.5

	unavailabilityWeight = 0.4
	workloadWeight       = 0.2
	conflictWeight       = 0.4

	highRisk   = 0.6
	mediumRisk = 0.35

	defaultHorizon = 7
)

// DateRisk 单日风险预测
type DateRisk struct {
	Date                string          `json:"date"`
	DayShiftGroup       string          `json:"day_shift_group"`
	UnavailabilityRatio float64         `json:"unavailability_ratio"`
	ProjectedWorkload   float64         `json:"projected_workload"`
	ConflictLikelihood  float64         `json:"conflict_likelihood"`
	Score               float64         `json:"score"`
	Level               model.RiskLevel `json:"level"`
	Factors             []string        `json:"factors,omitempty"`
}

// PredictiveAnalysis 预测 from 起 horizonDays 天内每日的风险
//
// 风险 = 0.4×轮班不可用比例 + 0.2×工作量外推 + 0.4×资源冲突可能性。
func (m *Monitor) PredictiveAnalysis(snap Snapshot, from string, horizonDays int) ([]DateRisk, error) {
	start, err := rotation.NormalizeDate(from)
	if err != nil {
		return nil, err
	}
	if horizonDays <= 0 {
		horizonDays = defaultHorizon
	}

	coverage := stats.Coverage(snap.Assignments)
	baseline := m.baselineLoad(snap, coverage)
	pending := pendingByDepartment(snap)

	out := make([]DateRisk, 0, horizonDays)
	for i := 0; i < horizonDays; i++ {
		date := model.AddDays(start, i)
		r := DateRisk{Date: date}
		if p, err := m.rotation.Pattern(date); err == nil {
			r.DayShiftGroup = p.DayShiftGroup
		}

		total := len(snap.Examiners)
		available := m.availableOn(snap.Examiners, date, "")
		if total > 0 {
			r.UnavailabilityRatio = float64(total-available) / float64(total)
		}

		load := baseline
		if dc, ok := coverage.DailyCoverage[date]; ok && available > 0 {
			load = max(load, float64(dc.Examiners)/float64(available))
		}
		r.ProjectedWorkload = clamp01(load * projectionFactor)

		r.ConflictLikelihood = m.conflictLikelihood(snap.Examiners, pending, date)

		r.Score = unavailabilityWeight*r.UnavailabilityRatio +
			workloadWeight*r.ProjectedWorkload +
			conflictWeight*r.ConflictLikelihood
		r.Level = riskLevel(r.Score)
		r.Factors = factors(r)
		out = append(out, r)
	}

	m.logger.Logger().Debug().
		Str("from", start).
		Int("horizon", horizonDays).
		Msg("风险预测完成")
	return out, nil
}

// baselineLoad 已排日期的平均占用率
func (m *Monitor) baselineLoad(snap Snapshot, coverage *stats.CoverageMetrics) float64 {
	loads := make([]float64, 0, len(coverage.DailyCoverage))
	for date, dc := range coverage.DailyCoverage {
		if available := m.availableOn(snap.Examiners, date, ""); available > 0 {
			loads = append(loads, float64(dc.Examiners)/float64(available))
		}
	}
	return stats.Mean(loads)
}

// conflictLikelihood 按待分配人数加权的各科室供需压力
func (m *Monitor) conflictLikelihood(examiners []*model.Examiner, pending map[string]int, date string) float64 {
	weighted, total := 0.0, 0
	for dept, n := range pending {
		supply := m.availableOn(examiners, date, dept)
		likelihood := 1.0
		if supply > 0 {
			likelihood = clamp01(float64(n) / (float64(supply) * pressureCeiling))
		}
		weighted += likelihood * float64(n)
		total += n
	}
	if total == 0 {
		return 0
	}
	return weighted / float64(total)
}

// pendingByDepartment 尚无完整安排的考生按科室计数
func pendingByDepartment(snap Snapshot) map[string]int {
	complete := make(map[string]bool)
	for _, a := range snap.Assignments {
		if a.IsComplete() {
			complete[a.CandidateID] = true
		}
	}
	out := make(map[string]int)
	for _, c := range snap.Candidates {
		if !complete[c.ID] {
			out[c.Department]++
		}
	}
	return out
}

func riskLevel(score float64) model.RiskLevel {
	switch {
	case score >= highRisk:
		return model.RiskHigh
	case score >= mediumRisk:
		return model.RiskMedium
	}
	return model.RiskLow
}

func factors(r DateRisk) []string {
	var out []string
	if r.UnavailabilityRatio >= 0.5 {
		out = append(out, fmt.Sprintf("%s 组白班，%.0f%% 考官不可用", r.DayShiftGroup, r.UnavailabilityRatio*100))
	}
	if r.ProjectedWorkload >= 0.8 {
		out = append(out, fmt.Sprintf("预计占用率 %.0f%%", r.ProjectedWorkload*100))
	}
	if r.ConflictLikelihood >= 0.5 {
		out = append(out, "待分配考生的同科室考官不足")
	}
	return out
}
