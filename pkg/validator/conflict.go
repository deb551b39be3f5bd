// Package validator 提供考试安排的冲突检测
package validator

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/rotation"
	"github.com/paiban/examplan/pkg/stats"
)

// ConflictDetector 冲突检测器
type ConflictDetector struct {
	config   *DetectorConfig
	rotation *rotation.Calculator
}

// DetectorConfig 检测器配置
type DetectorConfig struct {
	MaxConsecutiveDays int  // 考官最大连续监考天数
	CheckRotation      bool // 是否检查白班冲突
	CheckDepartments   bool // 是否检查主副考官科室规则
	CheckContinuity    bool // 是否检查考试日期连续
}

// DefaultDetectorConfig 返回默认配置
func DefaultDetectorConfig() *DetectorConfig {
	return &DetectorConfig{
		MaxConsecutiveDays: 3,
		CheckRotation:      true,
		CheckDepartments:   true,
		CheckContinuity:    true,
	}
}

// NewConflictDetector 创建冲突检测器
func NewConflictDetector(config *DetectorConfig) *ConflictDetector {
	if config == nil {
		config = DefaultDetectorConfig()
	}
	return &ConflictDetector{config: config, rotation: rotation.NewCalculator()}
}

// DetectAll 检测所有冲突，结果按严重程度降序、日期升序排列
func (d *ConflictDetector) DetectAll(assignments []*model.Assignment, examiners []*model.Examiner) []model.ConflictRecord {
	index := model.IndexExaminers(examiners)
	var conflicts []model.ConflictRecord

	for _, a := range assignments {
		conflicts = append(conflicts, d.detectAssignment(a, index)...)
	}
	conflicts = append(conflicts, d.detectDoubleBookings(assignments, index)...)
	conflicts = append(conflicts, d.detectConsecutiveDays(assignments, index)...)

	sortConflicts(conflicts)
	return conflicts
}

// DetectForAssignment 检测单个安排的冲突（含与已有安排的重复占用）
func (d *ConflictDetector) DetectForAssignment(a *model.Assignment, existing []*model.Assignment, examiners []*model.Examiner) []model.ConflictRecord {
	index := model.IndexExaminers(examiners)
	conflicts := d.detectAssignment(a, index)

	for _, day := range a.Days {
		for _, id := range []string{day.Primary, day.Secondary, day.Backup} {
			if id == "" {
				continue
			}
			for _, other := range existing {
				if other.CandidateID == a.CandidateID || !other.Involves(id, day.Date) {
					continue
				}
				conflicts = append(conflicts, newConflict(model.ConflictDoubleBooking, model.RiskHigh, day.Date,
					fmt.Sprintf("考官 %s 在 %s 已有其他考试", examinerName(index, id), day.Date),
					[]string{id, a.CandidateID, other.CandidateID}, "为其中一场考试更换考官"))
			}
		}
	}

	sortConflicts(conflicts)
	return conflicts
}

// detectAssignment 检测单个安排内部的问题
func (d *ConflictDetector) detectAssignment(a *model.Assignment, index model.ExaminerIndex) []model.ConflictRecord {
	var conflicts []model.ConflictRecord

	if len(a.Days) == 0 {
		conflicts = append(conflicts, newConflict(model.ConflictMissingExaminer, model.RiskHigh, "",
			fmt.Sprintf("考生 %s 没有考试日期", a.CandidateID), []string{a.CandidateID}, "重新选择考试窗口"))
		return conflicts
	}

	if d.config.CheckContinuity && !stats.IsContiguous(a) {
		c := newConflict(model.ConflictNonContiguous, model.RiskMedium, a.Days[0].Date,
			fmt.Sprintf("考生 %s 的考试日期不连续", a.CandidateID), []string{a.CandidateID}, "重新选择相邻的两天")
		c.AutoResolvable = false
		conflicts = append(conflicts, c)
	}

	for _, day := range a.Days {
		for _, role := range []model.Role{model.RolePrimary, model.RoleSecondary} {
			if day.Examiner(role) == "" {
				conflicts = append(conflicts, newConflict(model.ConflictMissingExaminer, model.RiskHigh, day.Date,
					fmt.Sprintf("考生 %s 在 %s 缺少%s", a.CandidateID, day.Date, roleName(role)),
					[]string{a.CandidateID}, "补充分配考官"))
			}
		}

		if day.Primary != "" && (day.Primary == day.Secondary || day.Primary == day.Backup) ||
			day.Secondary != "" && day.Secondary == day.Backup {
			conflicts = append(conflicts, newConflict(model.ConflictDuplicateExaminer, model.RiskHigh, day.Date,
				fmt.Sprintf("考生 %s 在 %s 同一考官担任多个角色", a.CandidateID, day.Date),
				[]string{a.CandidateID}, "为重复的角色更换考官"))
		}

		for _, role := range []model.Role{model.RolePrimary, model.RoleSecondary, model.RoleBackup} {
			id := day.Examiner(role)
			if id == "" {
				continue
			}
			e := index[id]
			if e == nil {
				conflicts = append(conflicts, newConflict(model.ConflictMissingExaminer, model.RiskHigh, day.Date,
					fmt.Sprintf("考官 %s 不在考官名单中", id), []string{a.CandidateID, id}, "更换为名单内的考官"))
				continue
			}
			if d.config.CheckRotation && !d.rotation.Available(e.Group, day.Date) {
				conflicts = append(conflicts, newConflict(model.ConflictDayShift, model.RiskHigh, day.Date,
					fmt.Sprintf("%s %s 在 %s 值白班", roleName(role), e.Name, day.Date),
					[]string{a.CandidateID, id}, "更换为当日休息或夜班的考官"))
			}
			if d.config.CheckDepartments {
				if c, ok := departmentConflict(a, day.Date, role, e); ok {
					conflicts = append(conflicts, c)
				}
			}
		}
	}
	return conflicts
}

// departmentConflict 主考官须同科室，副考官须异科室（放宽分配除外）
func departmentConflict(a *model.Assignment, date string, role model.Role, e *model.Examiner) (model.ConflictRecord, bool) {
	switch {
	case role == model.RolePrimary && e.Department != a.Department:
		return newConflict(model.ConflictDepartmentRule, model.RiskHigh, date,
			fmt.Sprintf("主考官 %s 不属于考生科室 %s", e.Name, a.Department),
			[]string{a.CandidateID, e.ID}, "更换为同科室考官"), true
	case role == model.RoleSecondary && e.Department == a.Department && !a.Relaxed:
		return newConflict(model.ConflictDepartmentRule, model.RiskMedium, date,
			fmt.Sprintf("副考官 %s 与考生同属 %s", e.Name, a.Department),
			[]string{a.CandidateID, e.ID}, "更换为异科室考官"), true
	}
	return model.ConflictRecord{}, false
}

// detectDoubleBookings 检测考官同日多场
func (d *ConflictDetector) detectDoubleBookings(assignments []*model.Assignment, index model.ExaminerIndex) []model.ConflictRecord {
	// date -> examinerID -> candidateIDs
	booked := make(map[string]map[string][]string)
	for _, a := range assignments {
		for _, day := range a.Days {
			seen := make(map[string]bool, 3)
			for _, id := range []string{day.Primary, day.Secondary, day.Backup} {
				if id == "" || seen[id] {
					continue
				}
				seen[id] = true
				if booked[day.Date] == nil {
					booked[day.Date] = make(map[string][]string)
				}
				booked[day.Date][id] = append(booked[day.Date][id], a.CandidateID)
			}
		}
	}

	var conflicts []model.ConflictRecord
	for _, date := range sortedKeys(booked) {
		byExaminer := booked[date]
		for _, id := range sortedKeys(byExaminer) {
			candidates := byExaminer[id]
			if len(candidates) < 2 {
				continue
			}
			affected := append([]string{id}, candidates...)
			conflicts = append(conflicts, newConflict(model.ConflictDoubleBooking, model.RiskHigh, date,
				fmt.Sprintf("考官 %s 在 %s 被安排了 %d 场考试", examinerName(index, id), date, len(candidates)),
				affected, "为多余的考试更换考官"))
		}
	}
	return conflicts
}

// detectConsecutiveDays 检测考官连续监考天数
func (d *ConflictDetector) detectConsecutiveDays(assignments []*model.Assignment, index model.ExaminerIndex) []model.ConflictRecord {
	if d.config.MaxConsecutiveDays <= 0 {
		return nil
	}

	workDates := make(map[string]map[string]bool)
	for _, a := range assignments {
		for _, day := range a.Days {
			for _, id := range []string{day.Primary, day.Secondary, day.Backup} {
				if id == "" {
					continue
				}
				if workDates[id] == nil {
					workDates[id] = make(map[string]bool)
				}
				workDates[id][day.Date] = true
			}
		}
	}

	var conflicts []model.ConflictRecord
	for _, id := range sortedKeys(workDates) {
		run := stats.LongestRun(workDates[id])
		if run <= d.config.MaxConsecutiveDays {
			continue
		}
		c := newConflict(model.ConflictWorkloadImbalance, model.RiskMedium, "",
			fmt.Sprintf("考官 %s 连续监考 %d 天，超过限制 %d 天", examinerName(index, id), run, d.config.MaxConsecutiveDays),
			[]string{id}, "将部分考试转移给工作量较低的考官")
		conflicts = append(conflicts, c)
	}
	return conflicts
}

// Summary 按类型统计冲突数
func Summary(conflicts []model.ConflictRecord) map[model.ConflictKind]int {
	out := make(map[model.ConflictKind]int)
	for _, c := range conflicts {
		out[c.Kind]++
	}
	return out
}

// HasBlocking 是否存在高危及以上冲突
func HasBlocking(conflicts []model.ConflictRecord) bool {
	for _, c := range conflicts {
		if c.Severity.Rank() >= model.RiskHigh.Rank() {
			return true
		}
	}
	return false
}

func newConflict(kind model.ConflictKind, severity model.RiskLevel, date, msg string, affected []string, fix string) model.ConflictRecord {
	return model.ConflictRecord{
		ID:               uuid.NewString(),
		Kind:             kind,
		Severity:         severity,
		Description:      msg,
		Date:             date,
		AffectedEntities: affected,
		SuggestedFixes:   []string{fix},
		AutoResolvable:   true,
	}
}

func sortConflicts(conflicts []model.ConflictRecord) {
	sort.SliceStable(conflicts, func(i, j int) bool {
		ri, rj := conflicts[i].Severity.Rank(), conflicts[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return conflicts[i].Date < conflicts[j].Date
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func examinerName(index model.ExaminerIndex, id string) string {
	if e := index[id]; e != nil {
		return e.Name
	}
	return id
}

func roleName(role model.Role) string {
	switch role {
	case model.RolePrimary:
		return "主考官"
	case model.RoleSecondary:
		return "副考官"
	default:
		return "备份考官"
	}
}
