// Package window 负责考试日期窗口的生成、硬约束过滤、多维评分与选择
package window

import (
	"sort"

	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/rotation"
)

// DefaultMaxWindows 默认最大候选窗口数
const DefaultMaxWindows = 30

// 策略间隔区间（天）
type band struct {
	strategy model.WindowStrategy
	minGap   int
	maxGap   int
	minDates int
}

var bands = []band{
	{strategy: model.StrategyConsecutive, minGap: 1, maxGap: 3},
	{strategy: model.StrategyWeekly, minGap: 5, maxGap: 10},
	{strategy: model.StrategyBiweekly, minGap: 12, maxGap: 16, minDates: 14},
}

// Generator 候选窗口生成器
type Generator struct {
	maxWindows int
}

// NewGenerator 创建生成器
func NewGenerator(maxWindows int) *Generator {
	if maxWindows <= 0 {
		maxWindows = DefaultMaxWindows
	}
	return &Generator{maxWindows: maxWindows}
}

// Generate 为考生生成候选窗口
//
// 每个窗口都是相邻两天且两天均在可用日期内。连续策略以前一日期为起点，
// 周/双周策略以后一日期为起点。三组按轮转顺序交错输出，跨组去重后截断。
func (g *Generator) Generate(available []string) []*model.DateWindowCandidate {
	dates := NormalizeDates(available)
	if len(dates) < 2 {
		return nil
	}

	set := make(map[string]bool, len(dates))
	for _, d := range dates {
		set[d] = true
	}

	groups := make([][]*model.DateWindowCandidate, len(bands))
	for bi, b := range bands {
		if len(dates) < b.minDates {
			continue
		}
		seen := make(map[string]bool)
		for i := 0; i < len(dates); i++ {
			for j := i + 1; j < len(dates); j++ {
				gap := model.DaysBetween(dates[i], dates[j])
				if gap > b.maxGap {
					break
				}
				if gap < b.minGap {
					continue
				}

				anchor := dates[j]
				if b.strategy == model.StrategyConsecutive {
					anchor = dates[i]
				}
				next := model.AddDays(anchor, 1)
				if !set[next] {
					continue
				}

				w := &model.DateWindowCandidate{Date1: anchor, Date2: next, Strategy: b.strategy}
				if seen[w.Key()] {
					continue
				}
				seen[w.Key()] = true
				groups[bi] = append(groups[bi], w)
			}
		}
	}

	return interleave(groups, g.maxWindows)
}

// interleave 轮流从各组取一个未出现过的窗口
func interleave(groups [][]*model.DateWindowCandidate, limit int) []*model.DateWindowCandidate {
	cursors := make([]int, len(groups))
	emitted := make(map[string]bool)
	var result []*model.DateWindowCandidate

	for len(result) < limit {
		progressed := false
		for gi := range groups {
			for cursors[gi] < len(groups[gi]) && emitted[groups[gi][cursors[gi]].Key()] {
				cursors[gi]++
			}
			if cursors[gi] >= len(groups[gi]) {
				continue
			}
			w := groups[gi][cursors[gi]]
			cursors[gi]++
			emitted[w.Key()] = true
			result = append(result, w)
			progressed = true
			if len(result) == limit {
				break
			}
		}
		if !progressed {
			break
		}
	}
	return result
}

// NormalizeDates 规范化、去重并排序日期，无法解析的日期被忽略
func NormalizeDates(input []string) []string {
	seen := make(map[string]bool, len(input))
	out := make([]string, 0, len(input))
	for _, raw := range input {
		d, err := rotation.NormalizeDate(raw)
		if err != nil || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
