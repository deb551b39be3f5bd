// Package constraints 约束目录：原始权重项与硬约束规则的说明及当前取值
package constraints

import (
	"sort"

	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/scheduler/constraint"
	"github.com/paiban/examplan/pkg/weights"
)

// ConstraintParam 约束参数定义
type ConstraintParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // int, float, bool
	Description string `json:"description"`
	Default     string `json:"default,omitempty"`
	Min         string `json:"min,omitempty"`
	Max         string `json:"max,omitempty"`
}

// ConstraintDefinition 约束定义
type ConstraintDefinition struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name"`
	Type        string            `json:"type"`     // hard 硬约束, soft 软约束, rule 校验规则
	Category    string            `json:"category"` // 分类
	Description string            `json:"description"`
	Dimensions  []string          `json:"dimensions,omitempty"` // 影响的评分维度
	Params      []ConstraintParam `json:"params,omitempty"`

	// 当前生效值
	Weight  float64 `json:"weight"`
	Enabled bool    `json:"enabled"`
	Known   bool    `json:"known"` // 权重表中的名称是否可识别
}

// LibraryResponse 约束目录响应
type LibraryResponse struct {
	Source  string                 `json:"source"`
	Library []ConstraintDefinition `json:"library"`
}

var weightParam = ConstraintParam{Name: "weight", Type: "float", Description: "原始权重", Default: "", Min: "0", Max: "100"}

// weightDefinitions 原始权重项的说明
var weightDefinitions = map[string]ConstraintDefinition{
	weights.HardExaminerDepartment: {
		DisplayName: "考官科室规则",
		Category:    "科室匹配",
		Description: "主考官与考生同科室，副考官来自其他科室（一室、二室可互换）。",
	},
	weights.HardNoDayShiftExaminer: {
		DisplayName: "白班考官回避",
		Category:    "轮班",
		Description: "当天值白班的班组成员不能担任考官。",
	},
	weights.HardNoDuplicate: {
		DisplayName: "考官不重复",
		Category:    "指派",
		Description: "同一天同一考生的各角色考官互不相同。",
	},
	weights.HardConsecutiveDays: {
		DisplayName: "考试连续两天",
		Category:    "日期",
		Description: "考生的两天考试必须是相邻的两天。",
	},
	weights.HardDailyLimit: {
		DisplayName: "考官每日一场",
		Category:    "指派",
		Description: "考官同一天只能参加一场考试。",
	},
	weights.SoftNightShiftPreference: {
		DisplayName: "优先晚班考官",
		Category:    "轮班",
		Description: "优先安排当天值晚班（白天空闲）的班组成员。",
	},
	weights.SoftRestDayPreference: {
		DisplayName: "优先休息班组",
		Category:    "轮班",
		Description: "优先安排当天休息的班组成员。",
	},
	weights.SoftRecommendedMatch: {
		DisplayName: "推荐科室匹配",
		Category:    "科室匹配",
		Description: "副考官优先来自考生的推荐科室。",
	},
	weights.SoftWorkloadBalance: {
		DisplayName: "工作量均衡",
		Category:    "均衡",
		Description: "降低考官之间工作量的方差。",
	},
	weights.SoftDateDistribution: {
		DisplayName: "日期分散",
		Category:    "日期",
		Description: "避免考试集中在少数几天。",
	},
	weights.SoftConsecutiveWork: {
		DisplayName: "避免连续工作",
		Category:    "疲劳",
		Description: "避免考官连续多天参加考试。",
	},
	weights.SoftBackupAvailability: {
		DisplayName: "备份考官可用",
		Category:    "指派",
		Description: "尽量为每天安排一名备份考官。",
	},
	weights.SoftHolidayAvoidance: {
		DisplayName: "回避节假日",
		Category:    "日期",
		Description: "尽量不在节假日安排考试。",
	},
}

// ruleDescriptions 校验规则的说明
var ruleDescriptions = map[constraint.Type]string{
	constraint.TypeSelfDayShift:        "考生本人所在班组当天值白班时不能考试。",
	constraint.TypeSameDepartmentPool:  "两天都要有同科室的可用考官担任主考官。",
	constraint.TypeCrossDepartmentPool: "两天都要有其他科室的可用考官担任副考官。",
	constraint.TypePriorAssignment:     "考生已有的安排与窗口日期不冲突。",
	constraint.TypeExaminerDepartment:  "考官的科室符合所任角色的要求。",
	constraint.TypeExaminerDayShift:    "考官当天不值白班。",
	constraint.TypeExaminerCommitted:   "考官当天没有其他考试。",
}

// GetLibrary 由当前权重表与已注册的规则生成约束目录
//
// 权重表中的未知名称也会列出（Known=false），不参与归一化。
func GetLibrary(current []model.ConstraintWeight, rules []constraint.Constraint) []ConstraintDefinition {
	library := make([]ConstraintDefinition, 0, len(weightDefinitions)+len(rules))
	seen := make(map[string]bool, len(current))

	for _, cw := range current {
		def, known := weightDefinitions[cw.Name]
		if !known {
			def = ConstraintDefinition{DisplayName: cw.Name, Category: "未知"}
		}
		def.Name = cw.Name
		def.Type = string(cw.Category)
		def.Weight = cw.Weight
		def.Enabled = cw.Enabled
		def.Known = known
		def.Dimensions = dimensionNames(cw.Name)
		def.Params = []ConstraintParam{weightParam}
		library = append(library, def)
		seen[cw.Name] = true
	}

	// 权重表未提供的已知项以默认值补齐，标记为未启用
	for _, dw := range weights.DefaultRawWeights() {
		if seen[dw.Name] {
			continue
		}
		def := weightDefinitions[dw.Name]
		def.Name = dw.Name
		def.Type = string(dw.Category)
		def.Weight = dw.Weight
		def.Known = true
		def.Dimensions = dimensionNames(dw.Name)
		def.Params = []ConstraintParam{weightParam}
		library = append(library, def)
	}

	for _, r := range rules {
		library = append(library, ConstraintDefinition{
			Name:        string(r.Type()),
			DisplayName: r.Name(),
			Type:        "rule",
			Category:    string(r.Category()),
			Description: ruleDescriptions[r.Type()],
			Weight:      float64(r.Weight()),
			Enabled:     true,
			Known:       true,
		})
	}

	sort.SliceStable(library, func(i, j int) bool {
		return typeRank(library[i].Type) < typeRank(library[j].Type)
	})
	return library
}

func dimensionNames(name string) []string {
	dims := weights.Dimensions(name)
	if len(dims) == 0 {
		return nil
	}
	out := make([]string, len(dims))
	for i, d := range dims {
		out[i] = d.String()
	}
	return out
}

func typeRank(t string) int {
	switch t {
	case string(model.ConstraintHard):
		return 0
	case string(model.ConstraintSoft):
		return 1
	default:
		return 2
	}
}
