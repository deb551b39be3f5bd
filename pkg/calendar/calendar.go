// Package calendar 提供节假日判定
package calendar

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/paiban/examplan/pkg/model"
)

// HolidayRule 节假日规则，Dates 与 RRule 二选一或同时使用
type HolidayRule struct {
	Name  string   `json:"name" yaml:"name"`
	Dates []string `json:"dates,omitempty" yaml:"dates,omitempty"`
	RRule string   `json:"rrule,omitempty" yaml:"rrule,omitempty"` // 例如 FREQ=YEARLY;BYMONTH=10;BYMONTHDAY=1,2,3
}

// Calendar 节假日日历
type Calendar struct {
	fixed map[string]string // date -> name
	rules []compiledRule
}

type compiledRule struct {
	name string
	rule *rrule.RRule
}

// New 创建日历
func New(rules []HolidayRule) (*Calendar, error) {
	c := &Calendar{fixed: make(map[string]string)}
	for i, r := range rules {
		for _, d := range r.Dates {
			if _, err := time.Parse(model.DateLayout, d); err != nil {
				return nil, fmt.Errorf("节假日规则 %d 日期 %q 无效: %w", i, d, err)
			}
			c.fixed[d] = r.Name
		}
		if r.RRule == "" {
			continue
		}
		rule, err := rrule.StrToRRule(r.RRule)
		if err != nil {
			return nil, fmt.Errorf("节假日规则 %d 的 rrule 解析失败: %w", i, err)
		}
		c.rules = append(c.rules, compiledRule{name: r.Name, rule: rule})
	}
	return c, nil
}

// Empty 返回不含任何节假日的日历
func Empty() *Calendar {
	return &Calendar{fixed: make(map[string]string)}
}

// HolidayName 返回节假日名称，非节假日返回空串
func (c *Calendar) HolidayName(date string) string {
	if c == nil {
		return ""
	}
	if name, ok := c.fixed[date]; ok {
		return name
	}
	t, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return ""
	}
	for _, r := range c.rules {
		if matches(r.rule, t) {
			return r.name
		}
	}
	return ""
}

// IsHoliday 是否节假日
func (c *Calendar) IsHoliday(date string) bool {
	return c.HolidayName(date) != ""
}

// IsWeekend 是否周末
func (c *Calendar) IsWeekend(date string) bool {
	return model.IsWeekend(date)
}

// HolidaysBetween 列出区间内的节假日
func (c *Calendar) HolidaysBetween(r model.DateRange) []string {
	var result []string
	for _, d := range r.Dates() {
		if c.IsHoliday(d) {
			result = append(result, d)
		}
	}
	return result
}

// matches 判断 t 当天是否有规则发生
func matches(rule *rrule.RRule, t time.Time) bool {
	// 规则的 DTSTART 置为当年年初，保证 YEARLY 规则可按年展开
	local := *rule
	start := time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	local.DTStart(start)
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	occurrences := local.Between(dayStart, dayStart.Add(24*time.Hour-time.Second), true)
	return len(occurrences) > 0
}
