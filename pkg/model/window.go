package model

// GroupStatus 班组在某日的状态
type GroupStatus string

const (
	StatusDayShift       GroupStatus = "DAY_SHIFT"
	StatusNightShift     GroupStatus = "NIGHT_SHIFT"
	StatusRest           GroupStatus = "REST"
	StatusAdministrative GroupStatus = "ADMINISTRATIVE"
)

// DutyPattern 某日的轮班模式（推导得出，不存储）
type DutyPattern struct {
	Date            string    `json:"date"`
	DayShiftGroup   string    `json:"day_shift_group"`
	NightShiftGroup string    `json:"night_shift_group"`
	RestGroups      [2]string `json:"rest_groups"`
	CyclePosition   int       `json:"cycle_position"`
}

// StatusOf 返回班组在该日的状态
func (p DutyPattern) StatusOf(group string) GroupStatus {
	switch {
	case IsAdministrativeGroup(group):
		return StatusAdministrative
	case group == p.DayShiftGroup:
		return StatusDayShift
	case group == p.NightShiftGroup:
		return StatusNightShift
	default:
		return StatusRest
	}
}

// WindowStrategy 窗口生成策略
type WindowStrategy string

const (
	StrategyConsecutive WindowStrategy = "consecutive"
	StrategyWeekly      WindowStrategy = "weekly"
	StrategyBiweekly    WindowStrategy = "biweekly"
)

// DimensionScores 六维评分
type DimensionScores struct {
	ResourceAvailability  float64 `json:"resource_availability"`
	WorkloadBalance       float64 `json:"workload_balance"`
	ConflictProbability   float64 `json:"conflict_probability"` // 已取反，越高越安全
	FutureFlexibility     float64 `json:"future_flexibility"`
	ConsecutiveWorkStress float64 `json:"consecutive_work_stress"` // 0-100
	RecommendedMatch      float64 `json:"recommended_match"`
}

// DateWindowCandidate 候选日期窗口
type DateWindowCandidate struct {
	Date1       string          `json:"date1"`
	Date2       string          `json:"date2"`
	Strategy    WindowStrategy  `json:"strategy"`
	Score       float64         `json:"score"`
	Dimensions  DimensionScores `json:"dimension_scores"`
	Confidence  float64         `json:"confidence"`
	RiskFactors []string        `json:"risk_factors,omitempty"`
}

// Key 返回窗口的日期对键
func (w *DateWindowCandidate) Key() string {
	return w.Date1 + "|" + w.Date2
}

// Dates 返回窗口日期
func (w *DateWindowCandidate) Dates() []string {
	return []string{w.Date1, w.Date2}
}

// NormalizedWeights 归一化后的六维权重，和为 1
type NormalizedWeights struct {
	ResourceAvailability  float64 `json:"resource_availability"`
	WorkloadBalance       float64 `json:"workload_balance"`
	ConflictProbability   float64 `json:"conflict_probability"`
	FutureFlexibility     float64 `json:"future_flexibility"`
	ConsecutiveWorkStress float64 `json:"consecutive_work_stress"`
	RecommendedMatch      float64 `json:"recommended_match"`
}

// Sum 权重总和
func (w NormalizedWeights) Sum() float64 {
	return w.ResourceAvailability + w.WorkloadBalance + w.ConflictProbability +
		w.FutureFlexibility + w.ConsecutiveWorkStress + w.RecommendedMatch
}

// Apply 计算加权总分，压力维度按 0-100 缩放到 0-1
func (w NormalizedWeights) Apply(d DimensionScores) float64 {
	return w.ResourceAvailability*d.ResourceAvailability +
		w.WorkloadBalance*d.WorkloadBalance +
		w.ConflictProbability*d.ConflictProbability +
		w.FutureFlexibility*d.FutureFlexibility +
		w.ConsecutiveWorkStress*d.ConsecutiveWorkStress/100 +
		w.RecommendedMatch*d.RecommendedMatch
}

// ConstraintWeight 单条原始约束权重
type ConstraintWeight struct {
	Name     string             `json:"name" db:"name" validate:"required"`
	Category ConstraintCategory `json:"category" db:"category" validate:"oneof=hard soft"`
	Weight   float64            `json:"weight" db:"weight"`
	Enabled  bool               `json:"enabled" db:"enabled"`
}

// ConstraintWeights 原始权重表 + 归一化结果
type ConstraintWeights struct {
	Raw        []ConstraintWeight `json:"raw"`
	Normalized NormalizedWeights  `json:"normalized"`
	Source     string             `json:"source"`
}
