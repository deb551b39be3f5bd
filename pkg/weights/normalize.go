// Package weights 提供约束权重的获取、归一化与缓存
package weights

import (
	"sort"

	"github.com/paiban/examplan/pkg/model"
)

// 原始约束名称
const (
	// 硬约束
	HardExaminerDepartment = "examinerDepartmentRule"
	HardNoDayShiftExaminer = "noDayShiftExaminer"
	HardNoDuplicate        = "noDuplicateExaminer"
	HardConsecutiveDays    = "consecutiveExamDays"
	HardDailyLimit         = "examinerDailyLimit"

	// 软约束
	SoftNightShiftPreference = "nightShiftPreference"
	SoftRestDayPreference    = "restDayPreference"
	SoftRecommendedMatch     = "recommendedExaminerMatch"
	SoftWorkloadBalance      = "workloadBalance"
	SoftDateDistribution     = "dateDistribution"
	SoftConsecutiveWork      = "consecutiveWorkAvoidance"
	SoftBackupAvailability   = "backupExaminerAvailability"
	SoftHolidayAvoidance     = "holidayAvoidance"
)

// Dimension 评分维度
type Dimension int

const (
	DimResourceAvailability Dimension = iota
	DimWorkloadBalance
	DimConflictProbability
	DimFutureFlexibility
	DimConsecutiveWorkStress
	DimRecommendedMatch
	dimCount
)

var dimensionNames = [dimCount]string{
	"resource_availability",
	"workload_balance",
	"conflict_probability",
	"future_flexibility",
	"consecutive_work_stress",
	"recommended_match",
}

// String 维度名称，与归一化权重的 JSON 字段一致
func (d Dimension) String() string {
	if d < 0 || d >= dimCount {
		return "unknown"
	}
	return dimensionNames[d]
}

// Dimensions 原始权重影响的评分维度，未知名称返回 nil
func Dimensions(name string) []Dimension {
	coef, ok := contribution[name]
	if !ok {
		return nil
	}
	var dims []Dimension
	for d := Dimension(0); d < dimCount; d++ {
		if coef[d] > 0 {
			dims = append(dims, d)
		}
	}
	return dims
}

// contribution 原始权重对各维度的贡献系数
var contribution = map[string][dimCount]float64{
	HardExaminerDepartment: {0.4, 0, 0, 0, 0, 0.1},
	HardNoDayShiftExaminer: {0.3, 0, 0, 0, 0.2, 0},
	HardNoDuplicate:        {0, 0, 0.3, 0, 0, 0},
	HardConsecutiveDays:    {0, 0, 0, 0.2, 0.1, 0},
	HardDailyLimit:         {0, 0.3, 0, 0, 0, 0},

	SoftNightShiftPreference: {0.5, 0, 0, 0, 0.5, 0},
	SoftRestDayPreference:    {0.5, 0, 0, 0, 0.5, 0},
	SoftRecommendedMatch:     {0, 0, 0, 0, 0, 1},
	SoftWorkloadBalance:      {0, 1, 0, 0, 0, 0},
	SoftDateDistribution:     {0, 0, 0.5, 0.5, 0, 0},
	SoftConsecutiveWork:      {0, 0, 0, 0, 1, 0},
	SoftBackupAvailability:   {0.6, 0.4, 0, 0, 0, 0},
	SoftHolidayAvoidance:     {0, 0, 1, 0, 0, 0},
}

// DefaultRawWeights 默认原始权重表
func DefaultRawWeights() []model.ConstraintWeight {
	return []model.ConstraintWeight{
		{Name: HardExaminerDepartment, Category: model.ConstraintHard, Weight: 100, Enabled: true},
		{Name: HardNoDayShiftExaminer, Category: model.ConstraintHard, Weight: 100, Enabled: true},
		{Name: HardNoDuplicate, Category: model.ConstraintHard, Weight: 100, Enabled: true},
		{Name: HardConsecutiveDays, Category: model.ConstraintHard, Weight: 100, Enabled: true},
		{Name: HardDailyLimit, Category: model.ConstraintHard, Weight: 80, Enabled: true},

		{Name: SoftNightShiftPreference, Category: model.ConstraintSoft, Weight: 70, Enabled: true},
		{Name: SoftRestDayPreference, Category: model.ConstraintSoft, Weight: 60, Enabled: true},
		{Name: SoftRecommendedMatch, Category: model.ConstraintSoft, Weight: 80, Enabled: true},
		{Name: SoftWorkloadBalance, Category: model.ConstraintSoft, Weight: 90, Enabled: true},
		{Name: SoftDateDistribution, Category: model.ConstraintSoft, Weight: 50, Enabled: true},
		{Name: SoftConsecutiveWork, Category: model.ConstraintSoft, Weight: 75, Enabled: true},
		{Name: SoftBackupAvailability, Category: model.ConstraintSoft, Weight: 40, Enabled: true},
		{Name: SoftHolidayAvoidance, Category: model.ConstraintSoft, Weight: 30, Enabled: true},
	}
}

// DefaultNormalized 默认归一化权重
func DefaultNormalized() model.NormalizedWeights {
	w, _ := normalize(DefaultRawWeights())
	return w
}

// Normalize 将原始权重表归一化为六维权重，总和为 1
//
// 未知名称、禁用项以及负权重不参与计算；总和为 0 时返回默认值。
func Normalize(raw []model.ConstraintWeight) model.NormalizedWeights {
	w, ok := normalize(raw)
	if !ok {
		return DefaultNormalized()
	}
	return w
}

func normalize(raw []model.ConstraintWeight) (model.NormalizedWeights, bool) {
	var dims [dimCount]float64
	for _, cw := range raw {
		coef, known := contribution[cw.Name]
		if !known || !cw.Enabled || cw.Weight <= 0 {
			continue
		}
		for d := Dimension(0); d < dimCount; d++ {
			dims[d] += coef[d] * cw.Weight
		}
	}

	total := 0.0
	for _, v := range dims {
		total += v
	}
	if total <= 0 {
		return model.NormalizedWeights{}, false
	}

	return model.NormalizedWeights{
		ResourceAvailability:  dims[DimResourceAvailability] / total,
		WorkloadBalance:       dims[DimWorkloadBalance] / total,
		ConflictProbability:   dims[DimConflictProbability] / total,
		FutureFlexibility:     dims[DimFutureFlexibility] / total,
		ConsecutiveWorkStress: dims[DimConsecutiveWorkStress] / total,
		RecommendedMatch:      dims[DimRecommendedMatch] / total,
	}, true
}

// FromTable 将 {hard: {name: w}, soft: {name: w}} 形式的表转换为列表，按名称排序
func FromTable(hard, soft map[string]float64) []model.ConstraintWeight {
	result := make([]model.ConstraintWeight, 0, len(hard)+len(soft))
	for name, w := range hard {
		result = append(result, model.ConstraintWeight{Name: name, Category: model.ConstraintHard, Weight: w, Enabled: true})
	}
	for name, w := range soft {
		result = append(result, model.ConstraintWeight{Name: name, Category: model.ConstraintSoft, Weight: w, Enabled: true})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Category != result[j].Category {
			return result[i].Category == model.ConstraintHard
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// ToTable 转换为求解器请求使用的命名表，未知类别的条目被忽略
func ToTable(raw []model.ConstraintWeight) map[string]map[string]float64 {
	table := map[string]map[string]float64{
		string(model.ConstraintHard): {},
		string(model.ConstraintSoft): {},
	}
	for _, cw := range raw {
		if !cw.Enabled {
			continue
		}
		named, ok := table[string(cw.Category)]
		if !ok {
			continue
		}
		w := cw.Weight
		if w < 0 {
			w = 0
		}
		named[cw.Name] = w
	}
	return table
}
