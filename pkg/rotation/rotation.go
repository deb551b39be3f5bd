// Package rotation 提供四班轮转的值班模式计算
//
// 基准日 2025-09-04 为周期位置 0（白班 B，夜班 A，C/D 休息），
// 之后每天周期位置加一，四天一循环。
package rotation

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/width"

	"github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/model"
)

// BaseDate 轮转基准日
var BaseDate = time.Date(2025, time.September, 4, 0, 0, 0, 0, time.UTC)

// Groups 参与轮转的班组
var Groups = [4]string{"A", "B", "C", "D"}

// 各周期位置的白班/夜班班组
var (
	dayShiftByPosition   = [4]string{"B", "C", "D", "A"}
	nightShiftByPosition = [4]string{"A", "B", "C", "D"}
)

// CyclePosition 计算周期位置，结果恒在 [0,3]
func CyclePosition(t time.Time) int {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	// 用 Unix 秒换算天数，避免 Duration 在远期日期溢出
	days := (d.Unix() - BaseDate.Unix()) / 86400
	return int(((days % 4) + 4) % 4)
}

// ScheduleFor 返回某日的值班模式
func ScheduleFor(t time.Time) model.DutyPattern {
	pos := CyclePosition(t)
	day := dayShiftByPosition[pos]
	night := nightShiftByPosition[pos]

	var rest [2]string
	i := 0
	for _, g := range Groups {
		if g != day && g != night {
			rest[i] = g
			i++
		}
	}

	return model.DutyPattern{
		Date:            t.Format(model.DateLayout),
		DayShiftGroup:   day,
		NightShiftGroup: night,
		RestGroups:      rest,
		CyclePosition:   pos,
	}
}

// ScheduleForString 解析宽松格式的日期后返回值班模式
func ScheduleForString(date string) (model.DutyPattern, error) {
	t, err := ParseDate(date)
	if err != nil {
		return model.DutyPattern{}, err
	}
	return ScheduleFor(t), nil
}

// IsAvailableAsExaminer 班组在该日是否可担任考官：仅白班不可用
func IsAvailableAsExaminer(group, date string) (bool, error) {
	if model.IsAdministrativeGroup(group) {
		return true, nil
	}
	p, err := ScheduleForString(date)
	if err != nil {
		return false, err
	}
	return normalizeGroup(group) != p.DayShiftGroup, nil
}

// StatusOf 返回班组在该日的状态
func StatusOf(group, date string) (model.GroupStatus, error) {
	if model.IsAdministrativeGroup(group) {
		return model.StatusAdministrative, nil
	}
	p, err := ScheduleForString(date)
	if err != nil {
		return "", err
	}
	return p.StatusOf(normalizeGroup(group)), nil
}

// normalizeGroup 兼容 "A组"、"a" 等写法
func normalizeGroup(group string) string {
	g := strings.ToUpper(strings.TrimSpace(width.Narrow.String(group)))
	g = strings.TrimSuffix(g, "组")
	g = strings.TrimSuffix(g, "班")
	return g
}

var (
	compactDate = regexp.MustCompile(`^\d{8}$`)
	looseDate   = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})`)
)

// NormalizeDate 将宽松格式的日期统一为 YYYY-MM-DD
//
// 支持 2025.9.4、2025/09/04、20250904、2025-09-04T08:00:00Z、
// 2025年9月4日以及全角数字。
func NormalizeDate(input string) (string, error) {
	t, err := ParseDate(input)
	if err != nil {
		return "", err
	}
	return t.Format(model.DateLayout), nil
}

// ParseDate 解析宽松格式的日期
func ParseDate(input string) (time.Time, error) {
	s := strings.TrimSpace(width.Narrow.String(input))
	if s == "" {
		return time.Time{}, &errors.InvalidDateError{Input: input, Reason: "空字符串"}
	}

	if compactDate.MatchString(s) {
		s = s[:4] + "-" + s[4:6] + "-" + s[6:]
	}

	s = strings.NewReplacer("年", "-", "月", "-", "日", "", "号", "", ".", "-", "/", "-").Replace(s)

	m := looseDate.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, &errors.InvalidDateError{Input: input, Reason: "无法识别的格式"}
	}
	rest := s[len(m[0]):]
	if rest != "" && rest[0] != 'T' && rest[0] != ' ' {
		return time.Time{}, &errors.InvalidDateError{Input: input, Reason: "日期后存在多余字符"}
	}

	t, err := time.Parse("2006-1-2", m[1]+"-"+m[2]+"-"+m[3])
	if err != nil {
		return time.Time{}, &errors.InvalidDateError{Input: input, Reason: err.Error()}
	}
	return t, nil
}

// MustScheduleFor 仅用于常量日期
func MustScheduleFor(date string) model.DutyPattern {
	p, err := ScheduleForString(date)
	if err != nil {
		panic(err)
	}
	return p
}

// Calculator 带缓存的轮转计算器，供批量评分时复用
type Calculator struct {
	cache map[string]model.DutyPattern
	mu    sync.RWMutex
}

// NewCalculator 创建计算器
func NewCalculator() *Calculator {
	return &Calculator{cache: make(map[string]model.DutyPattern)}
}

// Pattern 返回某日的值班模式
func (c *Calculator) Pattern(date string) (model.DutyPattern, error) {
	c.mu.RLock()
	p, ok := c.cache[date]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := ScheduleForString(date)
	if err != nil {
		return p, err
	}

	c.mu.Lock()
	c.cache[date] = p
	c.mu.Unlock()
	return p, nil
}

// Status 返回班组在某日的状态，日期非法时按行政（可用）处理
func (c *Calculator) Status(group, date string) model.GroupStatus {
	if model.IsAdministrativeGroup(group) {
		return model.StatusAdministrative
	}
	p, err := c.Pattern(date)
	if err != nil {
		return model.StatusAdministrative
	}
	return p.StatusOf(normalizeGroup(group))
}

// Available 班组在某日是否可担任考官
func (c *Calculator) Available(group, date string) bool {
	return c.Status(group, date) != model.StatusDayShift
}
