package stats

import (
	"sort"

	"github.com/paiban/examplan/pkg/model"
)

// CoverageMetrics 考试安排覆盖情况
type CoverageMetrics struct {
	TotalAssignments    int                    `json:"total_assignments"`
	CompleteAssignments int                    `json:"complete_assignments"`
	ContiguousCount     int                    `json:"contiguous_count"`
	CompletionRate      float64                `json:"completion_rate"`
	ContinuityRate      float64                `json:"continuity_rate"`
	DailyCoverage       map[string]DayCoverage `json:"daily_coverage"`
	MeanDailyExams      float64                `json:"mean_daily_exams"`
	PeakDate            string                 `json:"peak_date,omitempty"`
	Incomplete          []string               `json:"incomplete,omitempty"`
}

// DayCoverage 每日使用情况
type DayCoverage struct {
	Date      string `json:"date"`
	Exams     int    `json:"exams"`
	Examiners int    `json:"examiners"` // 当日被占用的考官人数
	Backups   int    `json:"backups"`
}

// Coverage 统计考试安排的完整性、连续性与每日负荷
func Coverage(assignments []*model.Assignment) *CoverageMetrics {
	m := &CoverageMetrics{
		TotalAssignments: len(assignments),
		DailyCoverage:    make(map[string]DayCoverage),
	}
	if len(assignments) == 0 {
		m.CompletionRate = 1
		m.ContinuityRate = 1
		return m
	}

	examinersByDate := make(map[string]map[string]bool)
	for _, a := range assignments {
		if a.IsComplete() {
			m.CompleteAssignments++
		} else {
			m.Incomplete = append(m.Incomplete, a.CandidateID)
		}
		if IsContiguous(a) {
			m.ContiguousCount++
		}

		for _, d := range a.Days {
			dc := m.DailyCoverage[d.Date]
			dc.Date = d.Date
			dc.Exams++
			if d.Backup != "" {
				dc.Backups++
			}
			if examinersByDate[d.Date] == nil {
				examinersByDate[d.Date] = make(map[string]bool)
			}
			for _, id := range []string{d.Primary, d.Secondary, d.Backup} {
				if id != "" {
					examinersByDate[d.Date][id] = true
				}
			}
			m.DailyCoverage[d.Date] = dc
		}
	}

	dates := make([]string, 0, len(m.DailyCoverage))
	for date, dc := range m.DailyCoverage {
		dc.Examiners = len(examinersByDate[date])
		m.DailyCoverage[date] = dc
		dates = append(dates, date)
	}
	sort.Strings(dates)

	total, peak := 0, -1
	for _, d := range dates {
		exams := m.DailyCoverage[d].Exams
		total += exams
		if exams > peak {
			peak = exams
			m.PeakDate = d
		}
	}
	m.MeanDailyExams = float64(total) / float64(len(dates))
	m.CompletionRate = float64(m.CompleteAssignments) / float64(m.TotalAssignments)
	m.ContinuityRate = float64(m.ContiguousCount) / float64(m.TotalAssignments)
	return m
}

// IsContiguous 考试日期是否为相邻的两天
func IsContiguous(a *model.Assignment) bool {
	if len(a.Days) < 2 {
		return len(a.Days) == 1
	}
	dates := a.Dates()
	sort.Strings(dates)
	for i := 1; i < len(dates); i++ {
		if model.DaysBetween(dates[i-1], dates[i]) != 1 {
			return false
		}
	}
	return true
}
