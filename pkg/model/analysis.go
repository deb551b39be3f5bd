package model

import "time"

// FatigueLevel 疲劳等级
type FatigueLevel string

const (
	FatigueLow    FatigueLevel = "LOW"
	FatigueMedium FatigueLevel = "MEDIUM"
	FatigueHigh   FatigueLevel = "HIGH"
)

// WorkloadStat 考官工作量统计
type WorkloadStat struct {
	ExaminerID      string       `json:"examiner_id"`
	ExaminerName    string       `json:"examiner_name"`
	Department      string       `json:"department"`
	TotalTasks      float64      `json:"total_tasks"` // 备份按 0.5 计
	AsPrimary       int          `json:"as_primary"`
	AsSecondary     int          `json:"as_secondary"`
	AsBackup        int          `json:"as_backup"`
	ConsecutiveDays int          `json:"consecutive_days"`
	FatigueLevel    FatigueLevel `json:"fatigue_level"`
	Overloaded      bool         `json:"overloaded"`
	Underloaded     bool         `json:"underloaded"`
}

// ConflictKind 冲突类型
type ConflictKind string

const (
	ConflictDoubleBooking     ConflictKind = "DOUBLE_BOOKING"     // 同日多场
	ConflictDayShift          ConflictKind = "DAY_SHIFT"          // 白班冲突
	ConflictDepartmentRule    ConflictKind = "DEPARTMENT_RULE"    // 科室规则
	ConflictMissingExaminer   ConflictKind = "MISSING_EXAMINER"   // 缺考官
	ConflictNonContiguous     ConflictKind = "NON_CONTIGUOUS"     // 考试日期不连续
	ConflictWorkloadImbalance ConflictKind = "WORKLOAD_IMBALANCE" // 工作量失衡
	ConflictUnallocated       ConflictKind = "UNALLOCATED"        // 未分配
	ConflictDuplicateExaminer ConflictKind = "DUPLICATE_EXAMINER" // 主副考官同一人
)

// ConflictRecord 冲突记录
type ConflictRecord struct {
	ID               string       `json:"id"`
	Kind             ConflictKind `json:"kind"`
	Severity         RiskLevel    `json:"severity"`
	Description      string       `json:"description"`
	Date             string       `json:"date,omitempty"`
	AffectedEntities []string     `json:"affected_entities"`
	SuggestedFixes   []string     `json:"suggested_fixes,omitempty"`
	AutoResolvable   bool         `json:"auto_resolvable"`
}

// AlertKind 预警类型
type AlertKind string

const (
	AlertResourceUsage     AlertKind = "RESOURCE_USAGE"
	AlertWorkloadImbalance AlertKind = "WORKLOAD_IMBALANCE"
	AlertConflictRate      AlertKind = "CONFLICT_RATE"
	AlertContinuity        AlertKind = "CONTINUITY"
	AlertFatigue           AlertKind = "FATIGUE"
)

// Alert 预警
type Alert struct {
	ID         string     `json:"id"`
	Kind       AlertKind  `json:"kind"`
	Level      RiskLevel  `json:"level"`
	Message    string     `json:"message"`
	Suggestion string     `json:"suggestion"`
	Value      float64    `json:"value"`
	Threshold  float64    `json:"threshold"`
	Resolved   bool       `json:"resolved"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// SystemState 系统状态快照
type SystemState struct {
	Timestamp        time.Time `json:"timestamp"`
	ResourceUsage    float64   `json:"resource_usage"`
	WorkloadVariance float64   `json:"workload_variance"`
	ConflictRate     float64   `json:"conflict_rate"`
	ContinuityRate   float64   `json:"continuity_rate"`
	MeanFatigue      float64   `json:"mean_fatigue"`
	TotalAssignments int       `json:"total_assignments"`
	ActiveExaminers  int       `json:"active_examiners"`
}

// DepartmentCapacity 科室容量分析
type DepartmentCapacity struct {
	Department         string    `json:"department"`
	Candidates         int       `json:"candidates"`
	Examiners          int       `json:"examiners"`
	AvailableExaminers float64   `json:"available_examiners"` // 轮班折算后
	Ratio              float64   `json:"ratio"`
	Risk               RiskLevel `json:"risk"`
}

// DateCapacity 日期容量分析
type DateCapacity struct {
	Date               string    `json:"date"`
	ExpectedSlots      float64   `json:"expected_slots"`
	AvailableExaminers int       `json:"available_examiners"`
	Utilization        float64   `json:"utilization"`
	DayShiftGroup      string    `json:"day_shift_group"`
	Risk               RiskLevel `json:"risk"`
}

// PredictionKind 冲突预测类型
type PredictionKind string

const (
	PredictSameDepartmentShortage PredictionKind = "SAME_DEPARTMENT_SHORTAGE"
	PredictRotationSpike          PredictionKind = "ROTATION_UNAVAILABILITY_SPIKE"
	PredictScarceDepartment       PredictionKind = "SCARCE_DEPARTMENT_SHORTAGE"
)

// ConflictPrediction 冲突预测
type ConflictPrediction struct {
	Kind        PredictionKind `json:"kind"`
	Severity    RiskLevel      `json:"severity"`
	Description string         `json:"description"`
	Affected    []string       `json:"affected"`
	Impact      float64        `json:"impact"`
}

// FeasibilityReport 可行性报告
type FeasibilityReport struct {
	Departments     []DepartmentCapacity `json:"departments"`
	Dates           []DateCapacity       `json:"dates"`
	Predictions     []ConflictPrediction `json:"predictions"`
	Score           float64              `json:"score"`
	Feasible        bool                 `json:"feasible"`
	Recommendations []string             `json:"recommendations"`
}
