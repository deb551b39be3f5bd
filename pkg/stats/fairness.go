// Package stats 提供考官工作量与考试日期使用情况的统计分析
package stats

import (
	"math"
	"sort"

	"github.com/paiban/examplan/pkg/model"
)

// 工作量阈值默认值
const (
	DefaultOverloadFactor  = 1.3
	DefaultUnderloadFactor = 0.7
	DefaultFatigueDays     = 3
	DefaultFatigueTasks    = 3.0
	BackupTaskWeight       = 0.5
)

// Thresholds 工作量判定阈值
type Thresholds struct {
	OverloadFactor  float64 `json:"overload_factor"`
	UnderloadFactor float64 `json:"underload_factor"`
	FatigueDays     int     `json:"fatigue_days"`
	FatigueTasks    float64 `json:"fatigue_tasks"`
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		OverloadFactor:  DefaultOverloadFactor,
		UnderloadFactor: DefaultUnderloadFactor,
		FatigueDays:     DefaultFatigueDays,
		FatigueTasks:    DefaultFatigueTasks,
	}
}

// WorkloadReport 工作量分析结果
type WorkloadReport struct {
	Stats       []model.WorkloadStat `json:"stats"`
	Mean        float64              `json:"mean"`
	Variance    float64              `json:"variance"`
	StdDev      float64              `json:"std_dev"`
	Gini        float64              `json:"gini"` // 0=完全公平
	Max         float64              `json:"max"`
	Min         float64              `json:"min"`
	Overloaded  []string             `json:"overloaded"`
	Underloaded []string             `json:"underloaded"`
	Fatigued    []string             `json:"fatigued"`

	// FairnessScore 综合公平性评分 (0-100)
	FairnessScore float64 `json:"fairness_score"`
}

// Stat 按考官ID查找统计
func (r *WorkloadReport) Stat(examinerID string) *model.WorkloadStat {
	for i := range r.Stats {
		if r.Stats[i].ExaminerID == examinerID {
			return &r.Stats[i]
		}
	}
	return nil
}

// WorkloadAnalyzer 工作量分析器
type WorkloadAnalyzer struct {
	thresholds Thresholds
}

// NewWorkloadAnalyzer 创建分析器
func NewWorkloadAnalyzer(t Thresholds) *WorkloadAnalyzer {
	d := DefaultThresholds()
	if t.OverloadFactor <= 0 {
		t.OverloadFactor = d.OverloadFactor
	}
	if t.UnderloadFactor <= 0 {
		t.UnderloadFactor = d.UnderloadFactor
	}
	if t.FatigueDays <= 0 {
		t.FatigueDays = d.FatigueDays
	}
	if t.FatigueTasks <= 0 {
		t.FatigueTasks = d.FatigueTasks
	}
	return &WorkloadAnalyzer{thresholds: t}
}

// Thresholds 返回当前阈值
func (w *WorkloadAnalyzer) Thresholds() Thresholds {
	return w.thresholds
}

// Analyze 统计名单内每位考官的工作量
//
// TotalTasks = 已有工作量 + 主考 + 副考 + 0.5×备份；均值按全部考官计算。
func (w *WorkloadAnalyzer) Analyze(assignments []*model.Assignment, examiners []*model.Examiner) *WorkloadReport {
	report := &WorkloadReport{
		Stats:       make([]model.WorkloadStat, 0, len(examiners)),
		Overloaded:  []string{},
		Underloaded: []string{},
		Fatigued:    []string{},
	}
	if len(examiners) == 0 {
		report.FairnessScore = 100
		return report
	}

	index := make(map[string]int, len(examiners))
	workDates := make(map[string]map[string]bool, len(examiners))
	for i, e := range examiners {
		index[e.ID] = i
		workDates[e.ID] = make(map[string]bool)
		report.Stats = append(report.Stats, model.WorkloadStat{
			ExaminerID:   e.ID,
			ExaminerName: e.Name,
			Department:   e.Department,
			TotalTasks:   float64(e.Workload),
		})
	}

	for _, a := range assignments {
		for _, d := range a.Days {
			for _, role := range []model.Role{model.RolePrimary, model.RoleSecondary, model.RoleBackup} {
				i, ok := index[d.Examiner(role)]
				if !ok {
					continue
				}
				s := &report.Stats[i]
				switch role {
				case model.RolePrimary:
					s.AsPrimary++
					s.TotalTasks++
				case model.RoleSecondary:
					s.AsSecondary++
					s.TotalTasks++
				case model.RoleBackup:
					s.AsBackup++
					s.TotalTasks += BackupTaskWeight
				}
				workDates[s.ExaminerID][d.Date] = true
			}
		}
	}

	tasks := make([]float64, len(report.Stats))
	for i := range report.Stats {
		tasks[i] = report.Stats[i].TotalTasks
	}
	report.Mean = Mean(tasks)
	report.Variance = Variance(tasks, report.Mean)
	report.StdDev = math.Sqrt(report.Variance)
	report.Gini = Gini(tasks)
	report.Max, report.Min = Range(tasks)

	t := w.thresholds
	for i, e := range examiners {
		s := &report.Stats[i]
		s.ConsecutiveDays = e.ConsecutiveDays
		if run := LongestRun(workDates[e.ID]); run > s.ConsecutiveDays {
			s.ConsecutiveDays = run
		}

		switch {
		case s.ConsecutiveDays >= t.FatigueDays:
			s.FatigueLevel = model.FatigueHigh
		case s.TotalTasks >= t.FatigueTasks:
			s.FatigueLevel = model.FatigueMedium
		default:
			s.FatigueLevel = model.FatigueLow
		}
		if s.FatigueLevel == model.FatigueHigh {
			report.Fatigued = append(report.Fatigued, s.ExaminerID)
		}

		if report.Mean > 0 {
			s.Overloaded = s.TotalTasks > report.Mean*t.OverloadFactor
			s.Underloaded = s.TotalTasks < report.Mean*t.UnderloadFactor
		}
		if s.Overloaded {
			report.Overloaded = append(report.Overloaded, s.ExaminerID)
		}
		if s.Underloaded {
			report.Underloaded = append(report.Underloaded, s.ExaminerID)
		}
	}

	report.FairnessScore = fairnessScore(report.Gini, report.StdDev, report.Mean)
	return report
}

// fairnessScore 综合公平性评分
func fairnessScore(gini, stdDev, mean float64) float64 {
	const (
		giniWeight   = 0.7
		stdDevWeight = 0.3
	)
	cv := 0.0
	if mean > 0 {
		cv = math.Min(1, stdDev/mean)
	}
	score := 100 * (giniWeight*(1-gini) + stdDevWeight*(1-cv))
	return math.Round(score*100) / 100
}

// FatigueValue 将疲劳等级折算为 0-1
func FatigueValue(level model.FatigueLevel) float64 {
	switch level {
	case model.FatigueHigh:
		return 1
	case model.FatigueMedium:
		return 0.5
	default:
		return 0
	}
}

// Mean 计算平均值
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance 计算总体方差
func Variance(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sumSquares := 0.0
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	return sumSquares / float64(len(values))
}

// Range 计算极值
func Range(values []float64) (max, min float64) {
	if len(values) == 0 {
		return 0, 0
	}
	max, min = values[0], values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	return
}

// Gini 计算基尼系数
func Gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	if sum == 0 {
		return 0
	}

	gini := 0.0
	for i, v := range sorted {
		gini += (2*float64(i+1) - float64(n) - 1) * v
	}

	gini = gini / (float64(n) * sum)
	return math.Max(0, math.Min(1, gini))
}

// LongestRun 日期集合中最长的连续天数
func LongestRun(dates map[string]bool) int {
	if len(dates) == 0 {
		return 0
	}
	sorted := make([]string, 0, len(dates))
	for d := range dates {
		sorted = append(sorted, d)
	}
	sort.Strings(sorted)

	best, run := 1, 1
	for i := 1; i < len(sorted); i++ {
		if model.DaysBetween(sorted[i-1], sorted[i]) == 1 {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
		}
	}
	return best
}
