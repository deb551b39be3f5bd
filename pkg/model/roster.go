package model

import "strings"

// Candidate 考生
type Candidate struct {
	ID                     string   `json:"id" validate:"required"`
	Name                   string   `json:"name" validate:"required"`
	Department             string   `json:"department" validate:"required"`
	Group                  string   `json:"group"`
	RecommendedDepartments []string `json:"recommended_departments,omitempty"`
	ExamDates              []string `json:"exam_dates,omitempty" validate:"omitempty,dive,datetime=2006-01-02"`
}

// Examiner 考官
type Examiner struct {
	ID              string `json:"id" validate:"required"`
	Name            string `json:"name" validate:"required"`
	Department      string `json:"department" validate:"required"`
	Group           string `json:"group"`
	Workload        int    `json:"workload" validate:"gte=0"`
	ConsecutiveDays int    `json:"consecutive_days" validate:"gte=0"`
}

// IsAdministrative 是否行政人员（不参与轮班，始终可用）
func (e *Examiner) IsAdministrative() bool {
	return IsAdministrativeGroup(e.Group)
}

// IsAdministrativeGroup 判断班组是否为行政班组
func IsAdministrativeGroup(group string) bool {
	g := strings.TrimSpace(group)
	switch strings.ToLower(g) {
	case "", AdministrativeGroup, "administrative", "admin", "行政", "行政班":
		return true
	}
	return false
}

// ExaminerIndex 考官索引
type ExaminerIndex map[string]*Examiner

// IndexExaminers 构建考官索引
func IndexExaminers(examiners []*Examiner) ExaminerIndex {
	idx := make(ExaminerIndex, len(examiners))
	for _, e := range examiners {
		idx[e.ID] = e
	}
	return idx
}

// ByDepartment 按科室分组
func ByDepartment(examiners []*Examiner) map[string][]*Examiner {
	result := make(map[string][]*Examiner)
	for _, e := range examiners {
		result[e.Department] = append(result[e.Department], e)
	}
	return result
}
