package window

import (
	"fmt"
	"sort"
	"strings"

	"github.com/paiban/examplan/pkg/model"
)

// 选择器默认参数
const (
	DefaultConfidenceFloor = 0.6
	DefaultAlternatives    = 3
)

// Selection 窗口选择结果
type Selection struct {
	Success        bool                        `json:"success"`
	SelectedWindow *model.DateWindowCandidate  `json:"selected_window,omitempty"`
	Alternatives   []model.DateWindowCandidate `json:"alternatives"`
	Reasoning      string                      `json:"reasoning"`
	LowConfidence  bool                        `json:"low_confidence,omitempty"`
	CacheHits      int                         `json:"cache_hits"`
	Evaluated      int                         `json:"evaluated"`
	Rejected       []Verdict                   `json:"rejected,omitempty"`
	// Depth 扩大日期范围的次数
	Depth     int              `json:"recursion_depth"`
	DateRange *model.DateRange `json:"date_range,omitempty"`
}

// Selector 窗口选择器
type Selector struct {
	floor        float64
	alternatives int
}

// NewSelector 创建选择器
func NewSelector(floor float64, alternatives int) *Selector {
	if floor < 0 || floor > 1 {
		floor = DefaultConfidenceFloor
	}
	if alternatives < 0 {
		alternatives = DefaultAlternatives
	}
	return &Selector{floor: floor, alternatives: alternatives}
}

// Select 从已评分窗口中选出最优窗口及备选
//
// 没有窗口达到置信度下限时，退回到得分最高者并标记为低置信度。
func (s *Selector) Select(scored []model.DateWindowCandidate) Selection {
	if len(scored) == 0 {
		return Selection{
			Alternatives: []model.DateWindowCandidate{},
			Reasoning:    "没有通过硬约束校验的候选窗口",
		}
	}

	pool := make([]model.DateWindowCandidate, 0, len(scored))
	for _, w := range scored {
		if w.Confidence >= s.floor {
			pool = append(pool, w)
		}
	}

	lowConfidence := false
	if len(pool) == 0 {
		lowConfidence = true
		pool = append(pool, scored...)
	}

	SortByScore(pool)

	best := pool[0]
	alts := make([]model.DateWindowCandidate, 0, s.alternatives)
	for i := 1; i < len(pool) && len(alts) < s.alternatives; i++ {
		alts = append(alts, pool[i])
	}

	return Selection{
		Success:        true,
		SelectedWindow: &best,
		Alternatives:   alts,
		Reasoning:      Explain(best, lowConfidence),
		LowConfidence:  lowConfidence,
		Evaluated:      len(scored),
	}
}

// SortByScore 按加权得分稳定降序排序
func SortByScore(windows []model.DateWindowCandidate) {
	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].Score > windows[j].Score
	})
}

// Explain 根据各维度阈值生成选择理由
func Explain(w model.DateWindowCandidate, lowConfidence bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "选择 %s 至 %s（%s），综合得分 %.2f，置信度 %.2f。",
		w.Date1, w.Date2, strategyLabel(w.Strategy), w.Score, w.Confidence)

	var notes []string
	d := w.Dimensions
	notes = appendThreshold(notes, d.ResourceAvailability, "考官资源充足", "考官资源紧张")
	notes = appendThreshold(notes, d.WorkloadBalance, "工作量分布均衡", "工作量分布不均")
	notes = appendThreshold(notes, d.ConflictProbability, "冲突风险低", "冲突风险高")
	notes = appendThreshold(notes, d.FutureFlexibility, "保留了充足的后续排期空间", "后续排期空间有限")
	notes = appendThreshold(notes, d.ConsecutiveWorkStress/100, "考官连续工作压力小", "考官连续工作压力大")
	notes = appendThreshold(notes, d.RecommendedMatch, "推荐科室匹配良好", "推荐科室匹配不足")
	if len(notes) > 0 {
		b.WriteString(strings.Join(notes, "，"))
		b.WriteString("。")
	}

	if len(w.RiskFactors) > 0 {
		fmt.Fprintf(&b, "风险因素：%s。", strings.Join(w.RiskFactors, "、"))
	}
	if lowConfidence {
		b.WriteString("所有候选窗口均未达到置信度要求，该结果仅供参考。")
	}
	return b.String()
}

func appendThreshold(notes []string, v float64, high, low string) []string {
	switch {
	case v > 0.8:
		return append(notes, high)
	case v < 0.3:
		return append(notes, low)
	}
	return notes
}

func strategyLabel(s model.WindowStrategy) string {
	switch s {
	case model.StrategyConsecutive:
		return "连续策略"
	case model.StrategyWeekly:
		return "周间隔策略"
	case model.StrategyBiweekly:
		return "双周间隔策略"
	}
	return string(s)
}
