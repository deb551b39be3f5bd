// Package precheck 在调用求解器前分析科室与日期层面的考官容量
package precheck

import (
	"fmt"
	"math"
	"sort"

	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/rotation"
)

// 风险阈值
const (
	deptHighRatio   = 2.5
	deptMediumRatio = 1.8

	dateHighUtilization   = 0.9
	dateMediumUtilization = 0.7

	// 每个考生每个考试日需要主副两名考官
	examinersPerCandidateDay = 2
	examDaysPerCandidate     = 2

	scarceDepartmentSize = 2
	ratioCeiling         = 99
)

// 扣分规则
const (
	deductDeptHigh           = 15
	deductDeptMedium         = 5
	deductDateHigh           = 10
	deductDateMedium         = 3
	deductCriticalPrediction = 10

	feasibleScore = 60
)

// Analyzer 资源预检分析器
type Analyzer struct {
	rot *rotation.Calculator
}

// NewAnalyzer 创建分析器
func NewAnalyzer(rot *rotation.Calculator) *Analyzer {
	if rot == nil {
		rot = rotation.NewCalculator()
	}
	return &Analyzer{rot: rot}
}

// Analyze 生成可行性报告
func (a *Analyzer) Analyze(candidates []*model.Candidate, examiners []*model.Examiner, dates []string) *model.FeasibilityReport {
	report := &model.FeasibilityReport{
		Departments:     a.departments(candidates, examiners, dates),
		Dates:           a.dates(candidates, examiners, dates),
		Predictions:     []model.ConflictPrediction{},
		Recommendations: []string{},
	}
	report.Predictions = predict(report, examiners)
	report.Score = score(report)
	report.Feasible = report.Score >= feasibleScore && !hasCritical(report.Predictions)
	report.Recommendations = recommend(report)
	return report
}

// availabilityFraction 考官在给定日期中可担任考官的比例
func (a *Analyzer) availabilityFraction(e *model.Examiner, dates []string) float64 {
	if len(dates) == 0 || e.IsAdministrative() {
		return 1
	}
	free := 0
	for _, d := range dates {
		if a.rot.Available(e.Group, d) {
			free++
		}
	}
	return float64(free) / float64(len(dates))
}

func (a *Analyzer) departments(candidates []*model.Candidate, examiners []*model.Examiner, dates []string) []model.DepartmentCapacity {
	byDept := model.ByDepartment(examiners)
	counts := make(map[string]int)
	for _, c := range candidates {
		counts[c.Department]++
	}

	names := make([]string, 0, len(counts))
	for d := range counts {
		names = append(names, d)
	}
	sort.Strings(names)

	result := make([]model.DepartmentCapacity, 0, len(names))
	for _, dept := range names {
		pool := byDept[dept]
		available := 0.0
		for _, e := range pool {
			available += a.availabilityFraction(e, dates)
		}

		dc := model.DepartmentCapacity{
			Department:         dept,
			Candidates:         counts[dept],
			Examiners:          len(pool),
			AvailableExaminers: round2(available),
		}
		if available <= 0 {
			dc.Ratio = ratioCeiling
			dc.Risk = model.RiskHigh
		} else {
			dc.Ratio = round2(math.Min(float64(dc.Candidates)/available, ratioCeiling))
			dc.Risk = classify(dc.Ratio, deptHighRatio, deptMediumRatio)
		}
		result = append(result, dc)
	}
	return result
}

func (a *Analyzer) dates(candidates []*model.Candidate, examiners []*model.Examiner, dates []string) []model.DateCapacity {
	if len(dates) == 0 {
		return []model.DateCapacity{}
	}
	perDate := float64(len(candidates)*examDaysPerCandidate) / float64(len(dates))
	slots := perDate * examinersPerCandidateDay

	result := make([]model.DateCapacity, 0, len(dates))
	for _, d := range dates {
		available := 0
		for _, e := range examiners {
			if a.rot.Available(e.Group, d) {
				available++
			}
		}

		dc := model.DateCapacity{
			Date:               d,
			ExpectedSlots:      round2(slots),
			AvailableExaminers: available,
		}
		if p, err := a.rot.Pattern(d); err == nil {
			dc.DayShiftGroup = p.DayShiftGroup
		}
		if available == 0 {
			dc.Utilization = ratioCeiling
			if slots > 0 {
				dc.Risk = model.RiskHigh
			} else {
				dc.Utilization = 0
				dc.Risk = model.RiskLow
			}
		} else {
			dc.Utilization = round2(slots / float64(available))
			dc.Risk = classify(dc.Utilization, dateHighUtilization, dateMediumUtilization)
		}
		result = append(result, dc)
	}
	return result
}

func classify(v, high, medium float64) model.RiskLevel {
	switch {
	case v > high:
		return model.RiskHigh
	case v > medium:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// predict 生成冲突预测，按严重度、影响排序
func predict(r *model.FeasibilityReport, examiners []*model.Examiner) []model.ConflictPrediction {
	var predictions []model.ConflictPrediction
	total := 0
	for _, d := range r.Departments {
		total += d.Candidates
	}

	for _, d := range r.Departments {
		if d.Risk != model.RiskHigh {
			continue
		}
		severity := model.RiskHigh
		if d.Examiners == 0 || d.Ratio > 2*deptHighRatio {
			severity = model.RiskCritical
		}
		predictions = append(predictions, model.ConflictPrediction{
			Kind:     model.PredictSameDepartmentShortage,
			Severity: severity,
			Description: fmt.Sprintf("%s 考生 %d 人，折算可用考官 %.2f 人，比例 %.2f",
				d.Department, d.Candidates, d.AvailableExaminers, d.Ratio),
			Affected: []string{d.Department},
			Impact:   share(d.Candidates, total),
		})
	}

	var spikes []string
	for _, d := range r.Dates {
		if d.Risk == model.RiskHigh {
			spikes = append(spikes, d.Date)
		}
	}
	if len(spikes) > 0 {
		severity := model.RiskHigh
		if len(spikes)*2 > len(r.Dates) {
			severity = model.RiskCritical
		}
		predictions = append(predictions, model.ConflictPrediction{
			Kind:        model.PredictRotationSpike,
			Severity:    severity,
			Description: fmt.Sprintf("%d 个日期的考官利用率超过 %.0f%%", len(spikes), dateHighUtilization*100),
			Affected:    spikes,
			Impact:      share(len(spikes), len(r.Dates)),
		})
	}

	byDept := model.ByDepartment(examiners)
	for _, d := range r.Departments {
		if d.Examiners > scarceDepartmentSize || d.Examiners == 0 {
			continue
		}
		// 稀缺科室的考官同时是其他科室的副考官来源
		cross := len(examiners) - len(byDept[d.Department])
		severity := model.RiskMedium
		if d.Candidates > d.Examiners*2 {
			severity = model.RiskHigh
		}
		predictions = append(predictions, model.ConflictPrediction{
			Kind:     model.PredictScarceDepartment,
			Severity: severity,
			Description: fmt.Sprintf("%s 仅有 %d 名考官，异科室可用考官 %d 人",
				d.Department, d.Examiners, cross),
			Affected: []string{d.Department},
			Impact:   share(d.Candidates, total),
		})
	}

	sort.SliceStable(predictions, func(i, j int) bool {
		ri, rj := predictions[i].Severity.Rank(), predictions[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return predictions[i].Impact > predictions[j].Impact
	})
	if predictions == nil {
		predictions = []model.ConflictPrediction{}
	}
	return predictions
}

func score(r *model.FeasibilityReport) float64 {
	s := 100.0
	for _, d := range r.Departments {
		switch d.Risk {
		case model.RiskHigh:
			s -= deductDeptHigh
		case model.RiskMedium:
			s -= deductDeptMedium
		}
	}
	for _, d := range r.Dates {
		switch d.Risk {
		case model.RiskHigh:
			s -= deductDateHigh
		case model.RiskMedium:
			s -= deductDateMedium
		}
	}
	for _, p := range r.Predictions {
		if p.Severity == model.RiskCritical {
			s -= deductCriticalPrediction
		}
	}
	return math.Max(0, math.Min(100, s))
}

func hasCritical(predictions []model.ConflictPrediction) bool {
	for _, p := range predictions {
		if p.Severity == model.RiskCritical {
			return true
		}
	}
	return false
}

func recommend(r *model.FeasibilityReport) []string {
	recs := []string{}
	for _, p := range r.Predictions {
		switch p.Kind {
		case model.PredictSameDepartmentShortage:
			recs = append(recs, fmt.Sprintf("为 %s 增补同科室考官或将部分考生安排到更宽的日期范围", p.Affected[0]))
		case model.PredictRotationSpike:
			recs = append(recs, "避开高利用率日期，或临时抽调行政考官支援")
		case model.PredictScarceDepartment:
			recs = append(recs, fmt.Sprintf("%s 考官稀缺，建议优先为其安排并控制其副考官任务", p.Affected[0]))
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "资源充足，可直接提交求解")
	}
	return recs
}

func share(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) / float64(total))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
