package model

// Role 考官角色
type Role string

const (
	RolePrimary   Role = "primary"   // 主考官（同科室）
	RoleSecondary Role = "secondary" // 副考官（异科室）
	RoleBackup    Role = "backup"    // 备份考官
)

// ExamDay 单日考试安排
type ExamDay struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Primary   string `json:"primary,omitempty"`
	Secondary string `json:"secondary,omitempty"`
	Backup    string `json:"backup,omitempty"`
}

// Examiner 返回某角色的考官ID
func (d *ExamDay) Examiner(role Role) string {
	switch role {
	case RolePrimary:
		return d.Primary
	case RoleSecondary:
		return d.Secondary
	case RoleBackup:
		return d.Backup
	}
	return ""
}

// SetExaminer 设置某角色的考官
func (d *ExamDay) SetExaminer(role Role, examinerID string) {
	switch role {
	case RolePrimary:
		d.Primary = examinerID
	case RoleSecondary:
		d.Secondary = examinerID
	case RoleBackup:
		d.Backup = examinerID
	}
}

// Assignment 考生的考试安排
type Assignment struct {
	ID            string    `json:"id"`
	CandidateID   string    `json:"candidate_id" validate:"required"`
	CandidateName string    `json:"candidate_name,omitempty"`
	Department    string    `json:"department"`
	Days          []ExamDay `json:"days" validate:"dive"`
	Relaxed       bool      `json:"relaxed,omitempty"`
	Score         float64   `json:"score,omitempty"`
}

// Dates 返回考试日期
func (a *Assignment) Dates() []string {
	dates := make([]string, len(a.Days))
	for i, d := range a.Days {
		dates[i] = d.Date
	}
	return dates
}

// Involves 考官是否在某日参与该考试
func (a *Assignment) Involves(examinerID, date string) bool {
	if examinerID == "" {
		return false
	}
	for _, d := range a.Days {
		if d.Date != date {
			continue
		}
		if d.Primary == examinerID || d.Secondary == examinerID || d.Backup == examinerID {
			return true
		}
	}
	return false
}

// IsComplete 每天的主副考官是否都已分配
func (a *Assignment) IsComplete() bool {
	if len(a.Days) == 0 {
		return false
	}
	for _, d := range a.Days {
		if d.Primary == "" || d.Secondary == "" {
			return false
		}
	}
	return true
}

// Clone 深拷贝
func (a *Assignment) Clone() *Assignment {
	c := *a
	c.Days = make([]ExamDay, len(a.Days))
	copy(c.Days, a.Days)
	return &c
}

// CloneAssignments 深拷贝分配列表
func CloneAssignments(assignments []*Assignment) []*Assignment {
	result := make([]*Assignment, len(assignments))
	for i, a := range assignments {
		result[i] = a.Clone()
	}
	return result
}

// Commitments 考官占用索引：date -> examinerID -> candidateID
type Commitments map[string]map[string]string

// BuildCommitments 从已有分配构建占用索引
func BuildCommitments(assignments []*Assignment) Commitments {
	c := make(Commitments)
	for _, a := range assignments {
		c.Add(a)
	}
	return c
}

// Add 登记一个分配的所有考官占用
func (c Commitments) Add(a *Assignment) {
	for _, d := range a.Days {
		for _, id := range []string{d.Primary, d.Secondary, d.Backup} {
			if id == "" {
				continue
			}
			if c[d.Date] == nil {
				c[d.Date] = make(map[string]string)
			}
			c[d.Date][id] = a.CandidateID
		}
	}
}

// Remove 撤销一个分配的考官占用
func (c Commitments) Remove(a *Assignment) {
	for _, d := range a.Days {
		for _, id := range []string{d.Primary, d.Secondary, d.Backup} {
			if byID := c[d.Date]; byID != nil && byID[id] == a.CandidateID {
				delete(byID, id)
			}
		}
	}
}

// IsCommitted 考官在某日是否已被其他考生占用
func (c Commitments) IsCommitted(examinerID, date, exceptCandidate string) bool {
	owner, ok := c[date][examinerID]
	return ok && owner != exceptCandidate
}

// Clone 拷贝索引
func (c Commitments) Clone() Commitments {
	out := make(Commitments, len(c))
	for date, byID := range c {
		m := make(map[string]string, len(byID))
		for k, v := range byID {
			m[k] = v
		}
		out[date] = m
	}
	return out
}

// Usage 每个日期被占用的考官人次
func (c Commitments) Usage() map[string]int {
	usage := make(map[string]int, len(c))
	for date, byID := range c {
		usage[date] = len(byID)
	}
	return usage
}

// DateUsage 统计每个日期已安排的考试场次
func DateUsage(assignments []*Assignment) map[string]int {
	usage := make(map[string]int)
	for _, a := range assignments {
		for _, d := range a.Days {
			usage[d.Date]++
		}
	}
	return usage
}

// HasExamOn 考生在某日是否已有考试
func HasExamOn(assignments []*Assignment, candidateID, date string) bool {
	for _, a := range assignments {
		if a.CandidateID != candidateID {
			continue
		}
		for _, d := range a.Days {
			if d.Date == date {
				return true
			}
		}
	}
	return false
}
