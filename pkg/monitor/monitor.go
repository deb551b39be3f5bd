// Package monitor 对考试安排进行阈值预警与短期风险预测
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paiban/examplan/internal/metrics"
	"github.com/paiban/examplan/pkg/logger"
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/rotation"
	"github.com/paiban/examplan/pkg/stats"
	"github.com/paiban/examplan/pkg/validator"
)

// Thresholds 预警阈值
type Thresholds struct {
	ResourceUsage    float64 `json:"resource_usage" yaml:"resource_usage"`
	WorkloadVariance float64 `json:"workload_variance" yaml:"workload_variance"`
	ConflictRate     float64 `json:"conflict_rate" yaml:"conflict_rate"`
	// ContinuityRate 低于该值时预警
	ContinuityRate float64 `json:"continuity_rate" yaml:"continuity_rate"`
	MeanFatigue    float64 `json:"mean_fatigue" yaml:"mean_fatigue"`
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		ResourceUsage:    0.8,
		WorkloadVariance: 2.0,
		ConflictRate:     0.1,
		ContinuityRate:   0.95,
		MeanFatigue:      0.5,
	}
}

// Snapshot 一次监控所需的排程数据
type Snapshot struct {
	Assignments []*model.Assignment `json:"assignments"`
	Examiners   []*model.Examiner   `json:"examiners"`
	Candidates  []*model.Candidate  `json:"candidates"`
}

// SnapshotFunc 定时监控时获取最新数据
type SnapshotFunc func(ctx context.Context) (Snapshot, error)

// CheckResult 单次监控结果
type CheckResult struct {
	State           model.SystemState `json:"system_state"`
	NewAlerts       []model.Alert     `json:"new_alerts"`
	ResolvedAlerts  []model.Alert     `json:"resolved_alerts"`
	ActiveAlerts    []model.Alert     `json:"active_alerts"`
	Recommendations []string          `json:"recommendations"`
}

// Monitor 预警监控器
type Monitor struct {
	thresholds Thresholds
	analyzer   *stats.WorkloadAnalyzer
	detector   *validator.ConflictDetector
	rotation   *rotation.Calculator
	sink       AlertSink
	now        func() time.Time

	mu      sync.Mutex
	active  map[model.AlertKind]*model.Alert
	// history 与 active 共享告警，解除状态会反映到历史中
	history []*model.Alert

	logger *logger.PipelineLogger
}

// Option 监控器选项
type Option func(*Monitor)

// WithSink 设置告警下游
func WithSink(sink AlertSink) Option {
	return func(m *Monitor) { m.sink = sink }
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithRotation 共享轮班计算器
func WithRotation(rot *rotation.Calculator) Option {
	return func(m *Monitor) { m.rotation = rot }
}

// WithWorkloadThresholds 工作量判定阈值
func WithWorkloadThresholds(t stats.Thresholds) Option {
	return func(m *Monitor) { m.analyzer = stats.NewWorkloadAnalyzer(t) }
}

// New 创建监控器，非正数阈值取默认值
func New(t Thresholds, opts ...Option) *Monitor {
	d := DefaultThresholds()
	if t.ResourceUsage <= 0 {
		t.ResourceUsage = d.ResourceUsage
	}
	if t.WorkloadVariance <= 0 {
		t.WorkloadVariance = d.WorkloadVariance
	}
	if t.ConflictRate <= 0 {
		t.ConflictRate = d.ConflictRate
	}
	if t.ContinuityRate <= 0 {
		t.ContinuityRate = d.ContinuityRate
	}
	if t.MeanFatigue <= 0 {
		t.MeanFatigue = d.MeanFatigue
	}

	m := &Monitor{
		thresholds: t,
		analyzer:   stats.NewWorkloadAnalyzer(stats.DefaultThresholds()),
		detector:   validator.NewConflictDetector(nil),
		rotation:   rotation.NewCalculator(),
		sink:       NewLogSink(),
		now:        time.Now,
		active:     make(map[model.AlertKind]*model.Alert),
		logger:     logger.NewPipelineLogger("monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Thresholds 当前阈值
func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}

// Check 计算系统状态并更新告警
//
// 同类告警未解除前不会重复产生；指标恢复后告警标记为已解除。
func (m *Monitor) Check(ctx context.Context, snap Snapshot) *CheckResult {
	start := m.now()
	report := m.analyzer.Analyze(snap.Assignments, snap.Examiners)
	state := m.State(snap, report)

	result := &CheckResult{
		State:          state,
		NewAlerts:      []model.Alert{},
		ResolvedAlerts: []model.Alert{},
	}

	m.mu.Lock()
	for _, rule := range m.rules() {
		value := rule.value(state)
		breached := rule.breached(value)
		alert, exists := m.active[rule.kind]

		switch {
		case breached && exists:
			alert.Value = value
			alert.Level = rule.level(value)
		case breached:
			a := model.Alert{
				ID:         uuid.NewString(),
				Kind:       rule.kind,
				Level:      rule.level(value),
				Message:    rule.message(value),
				Suggestion: rule.suggestion,
				Value:      value,
				Threshold:  rule.threshold,
				CreatedAt:  state.Timestamp,
			}
			m.active[rule.kind] = &a
			m.history = append(m.history, &a)
			result.NewAlerts = append(result.NewAlerts, a)
		case exists:
			resolvedAt := state.Timestamp
			alert.Resolved = true
			alert.ResolvedAt = &resolvedAt
			alert.Value = value
			result.ResolvedAlerts = append(result.ResolvedAlerts, *alert)
			delete(m.active, rule.kind)
		}
	}
	result.ActiveAlerts = m.activeLocked()
	m.mu.Unlock()

	result.Recommendations = recommendations(result.ActiveAlerts, report)
	m.publish(ctx, result.NewAlerts)
	m.recordMetrics(state)

	metrics.RecordStage("monitor", true, m.now().Sub(start))
	m.logger.Logger().Debug().
		Int("new_alerts", len(result.NewAlerts)).
		Int("resolved_alerts", len(result.ResolvedAlerts)).
		Int("active_alerts", len(result.ActiveAlerts)).
		Msg("监控检查完成")
	return result
}

// State 计算系统状态快照
func (m *Monitor) State(snap Snapshot, report *stats.WorkloadReport) model.SystemState {
	if report == nil {
		report = m.analyzer.Analyze(snap.Assignments, snap.Examiners)
	}
	coverage := stats.Coverage(snap.Assignments)

	fatigue := make([]float64, 0, len(report.Stats))
	active := 0
	for _, s := range report.Stats {
		fatigue = append(fatigue, stats.FatigueValue(s.FatigueLevel))
		if s.AsPrimary+s.AsSecondary+s.AsBackup > 0 {
			active++
		}
	}

	return model.SystemState{
		Timestamp:        m.now(),
		ResourceUsage:    m.resourceUsage(snap, coverage),
		WorkloadVariance: report.Variance,
		ConflictRate:     m.conflictRate(snap),
		ContinuityRate:   coverage.ContinuityRate,
		MeanFatigue:      stats.Mean(fatigue),
		TotalAssignments: len(snap.Assignments),
		ActiveExaminers:  active,
	}
}

// resourceUsage 已占用的考官人日 ÷ 轮班可用的考官人日
func (m *Monitor) resourceUsage(snap Snapshot, coverage *stats.CoverageMetrics) float64 {
	used, capacity := 0, 0
	for date, dc := range coverage.DailyCoverage {
		used += dc.Examiners
		capacity += m.availableOn(snap.Examiners, date, "")
	}
	switch {
	case capacity == 0 && used == 0:
		return 0
	case capacity == 0:
		return 1
	}
	return clamp01(float64(used) / float64(capacity))
}

// conflictRate 涉及冲突或未完成安排的考生占比
func (m *Monitor) conflictRate(snap Snapshot) float64 {
	known := make(map[string]bool)
	for _, c := range snap.Candidates {
		known[c.ID] = true
	}
	for _, a := range snap.Assignments {
		known[a.CandidateID] = true
	}
	if len(known) == 0 {
		return 0
	}

	troubled := make(map[string]bool)
	for _, c := range m.detector.DetectAll(snap.Assignments, snap.Examiners) {
		for _, id := range c.AffectedEntities {
			if known[id] {
				troubled[id] = true
			}
		}
	}

	complete := make(map[string]bool)
	for _, a := range snap.Assignments {
		if a.IsComplete() {
			complete[a.CandidateID] = true
		}
	}
	for id := range known {
		if !complete[id] {
			troubled[id] = true
		}
	}
	return float64(len(troubled)) / float64(len(known))
}

// availableOn 当日不值白班的考官数，department 为空时不限科室
func (m *Monitor) availableOn(examiners []*model.Examiner, date, department string) int {
	n := 0
	for _, e := range examiners {
		if department != "" && e.Department != department {
			continue
		}
		if m.rotation.Available(e.Group, date) {
			n++
		}
	}
	return n
}

// ActiveAlerts 未解除的告警
func (m *Monitor) ActiveAlerts() []model.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

// History 产生过的全部告警（按产生顺序）
func (m *Monitor) History() []model.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Alert, 0, len(m.history))
	for _, a := range m.history {
		out = append(out, *a)
	}
	return out
}

func (m *Monitor) activeLocked() []model.Alert {
	out := make([]model.Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Level.Rank(), out[j].Level.Rank()
		if ri != rj {
			return ri > rj
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Run 按固定间隔执行监控，直到 ctx 结束
func (m *Monitor) Run(ctx context.Context, interval time.Duration, snapshot SnapshotFunc) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Logger().Info().Dur("interval", interval).Msg("预警监控启动")
	for {
		if err := ctx.Err(); err != nil {
			m.logger.Logger().Info().Msg("预警监控停止")
			return err
		}
		m.tick(ctx, snapshot)

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

func (m *Monitor) tick(ctx context.Context, snapshot SnapshotFunc) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Recovered("tick", rec)
		}
	}()

	snap, err := snapshot(ctx)
	if err != nil {
		m.logger.Fallback("snapshot", err)
		return
	}
	m.Check(ctx, snap)
}

func (m *Monitor) publish(ctx context.Context, alerts []model.Alert) {
	if len(alerts) == 0 || m.sink == nil {
		return
	}
	if err := m.sink.Publish(ctx, alerts); err != nil {
		m.logger.Logger().Warn().Err(err).Int("alerts", len(alerts)).Msg("告警投递失败")
	}
}

func (m *Monitor) recordMetrics(state model.SystemState) {
	metrics.SetGauge(metrics.MetricSystemState, state.ResourceUsage, "resource_usage")
	metrics.SetGauge(metrics.MetricSystemState, state.WorkloadVariance, "workload_variance")
	metrics.SetGauge(metrics.MetricSystemState, state.ConflictRate, "conflict_rate")
	metrics.SetGauge(metrics.MetricSystemState, state.ContinuityRate, "continuity_rate")
	metrics.SetGauge(metrics.MetricSystemState, state.MeanFatigue, "mean_fatigue")

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rule := range m.rules() {
		v := 0.0
		if _, ok := m.active[rule.kind]; ok {
			v = 1
		}
		metrics.SetGauge(metrics.MetricActiveAlerts, v, string(rule.kind))
	}
}

// rule 单项阈值规则
type rule struct {
	kind       model.AlertKind
	threshold  float64
	below      bool
	value      func(model.SystemState) float64
	message    func(float64) string
	suggestion string
}

func (r rule) breached(v float64) bool {
	if r.below {
		return v < r.threshold
	}
	return v > r.threshold
}

// level 偏离阈值越远级别越高
func (r rule) level(v float64) model.RiskLevel {
	if r.below {
		switch {
		case v < r.threshold*0.5:
			return model.RiskCritical
		case v < r.threshold*0.75:
			return model.RiskHigh
		}
		return model.RiskMedium
	}
	switch {
	case v >= r.threshold*2:
		return model.RiskCritical
	case v >= r.threshold*1.5:
		return model.RiskHigh
	}
	return model.RiskMedium
}

func (m *Monitor) rules() []rule {
	t := m.thresholds
	return []rule{
		{
			kind:      model.AlertResourceUsage,
			threshold: t.ResourceUsage,
			value:     func(s model.SystemState) float64 { return s.ResourceUsage },
			message: func(v float64) string {
				return fmt.Sprintf("考官资源使用率 %.0f%% 超过阈值 %.0f%%", v*100, t.ResourceUsage*100)
			},
			suggestion: "扩大考试日期范围或增加可用考官",
		},
		{
			kind:      model.AlertWorkloadImbalance,
			threshold: t.WorkloadVariance,
			value:     func(s model.SystemState) float64 { return s.WorkloadVariance },
			message: func(v float64) string {
				return fmt.Sprintf("工作量方差 %.2f 超过阈值 %.2f", v, t.WorkloadVariance)
			},
			suggestion: "执行工作量均衡，将任务从过载考官转移给低负荷考官",
		},
		{
			kind:      model.AlertConflictRate,
			threshold: t.ConflictRate,
			value:     func(s model.SystemState) float64 { return s.ConflictRate },
			message: func(v float64) string {
				return fmt.Sprintf("冲突率 %.0f%% 超过阈值 %.0f%%", v*100, t.ConflictRate*100)
			},
			suggestion: "对高危冲突逐条执行冲突解决",
		},
		{
			kind:      model.AlertContinuity,
			threshold: t.ContinuityRate,
			below:     true,
			value:     func(s model.SystemState) float64 { return s.ContinuityRate },
			message: func(v float64) string {
				return fmt.Sprintf("考试日期连续率 %.0f%% 低于阈值 %.0f%%", v*100, t.ContinuityRate*100)
			},
			suggestion: "为日期不连续的考生重新选择相邻两天的考试窗口",
		},
		{
			kind:      model.AlertFatigue,
			threshold: t.MeanFatigue,
			value:     func(s model.SystemState) float64 { return s.MeanFatigue },
			message: func(v float64) string {
				return fmt.Sprintf("考官平均疲劳度 %.2f 超过阈值 %.2f", v, t.MeanFatigue)
			},
			suggestion: "减少连续监考天数，安排疲劳考官轮休",
		},
	}
}

// recommendations 根据未解除告警与负荷情况生成建议
func recommendations(active []model.Alert, report *stats.WorkloadReport) []string {
	out := make([]string, 0, len(active)+2)
	for _, a := range active {
		out = append(out, fmt.Sprintf("[%s] %s", a.Level, a.Suggestion))
	}
	if len(report.Overloaded) > 0 {
		out = append(out, fmt.Sprintf("过载考官: %v", report.Overloaded))
	}
	if len(report.Fatigued) > 0 {
		out = append(out, fmt.Sprintf("疲劳考官: %v", report.Fatigued))
	}
	if len(out) == 0 {
		out = append(out, "系统运行正常")
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
