// Package pipeline 组合窗口选择、预检、分配、均衡、冲突解决与预警，作为求解服务外围的统一入口
package pipeline

import (
	"context"
	"time"

	"github.com/paiban/examplan/internal/config"
	"github.com/paiban/examplan/internal/metrics"
	"github.com/paiban/examplan/pkg/calendar"
	"github.com/paiban/examplan/pkg/logger"
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/monitor"
	"github.com/paiban/examplan/pkg/rotation"
	"github.com/paiban/examplan/pkg/scheduler/allocator"
	"github.com/paiban/examplan/pkg/scheduler/balance"
	"github.com/paiban/examplan/pkg/scheduler/constraint"
	"github.com/paiban/examplan/pkg/scheduler/precheck"
	"github.com/paiban/examplan/pkg/scheduler/resolver"
	"github.com/paiban/examplan/pkg/scheduler/window"
	"github.com/paiban/examplan/pkg/solver"
	"github.com/paiban/examplan/pkg/stats"
	"github.com/paiban/examplan/pkg/validator"
	"github.com/paiban/examplan/pkg/weights"
)

// Config 流水线参数
type Config struct {
	MaxWindows        int
	ConfidenceFloor   float64
	Alternatives      int
	ScoreWorkers      int
	ScoreCacheTTL     time.Duration
	MaxRecursionDepth int
	WidenDays         int
	// Interchange 可互相替代的两个科室
	Interchange [2]string
	Allocator   allocator.Config
	Balance     balance.Config
	Monitor     monitor.Thresholds
	Solver      solver.Config
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		MaxWindows:        window.DefaultMaxWindows,
		ConfidenceFloor:   window.DefaultConfidenceFloor,
		Alternatives:      window.DefaultAlternatives,
		ScoreWorkers:      window.DefaultScoreWorkers,
		ScoreCacheTTL:     window.DefaultScoreTTL,
		MaxRecursionDepth: 3,
		WidenDays:         7,
		Interchange:       [2]string{"一室", "二室"},
		Allocator:         allocator.DefaultConfig(),
		Balance:           balance.DefaultConfig(),
		Monitor:           monitor.DefaultThresholds(),
		Solver:            solver.DefaultConfig(),
	}
}

// FromConfig 由应用配置构造流水线参数
func FromConfig(c *config.Config) Config {
	cfg := DefaultConfig()
	p := c.Pipeline
	cfg.MaxWindows = p.MaxWindows
	cfg.ConfidenceFloor = p.ConfidenceFloor
	cfg.Alternatives = p.Alternatives
	cfg.ScoreWorkers = p.ScoreWorkers
	cfg.ScoreCacheTTL = p.ScoreCacheTTL
	cfg.MaxRecursionDepth = p.MaxRecursionDepth
	cfg.WidenDays = p.WidenDays
	if len(p.InterchangeDepartments) == 2 {
		cfg.Interchange = [2]string{p.InterchangeDepartments[0], p.InterchangeDepartments[1]}
	}
	cfg.Allocator.BatchSize = p.BatchSize
	cfg.Allocator.Workers = p.AllocWorkers
	if c.Solver.Timeout > 0 {
		cfg.Solver.TimeLimitSeconds = int(c.Solver.Timeout.Seconds())
	}
	return cfg
}

// WeightProvider 约束权重来源
type WeightProvider interface {
	Weights(ctx context.Context) model.ConstraintWeights
	NormalizedWeights(ctx context.Context) model.NormalizedWeights
}

// Pipeline 流水线
//
// 评分缓存、冲突解决历史与告警状态都归属于该实例，调用方负责其生命周期。
type Pipeline struct {
	config    Config
	rotation  *rotation.Calculator
	calendar  *calendar.Calendar
	weights   WeightProvider
	manager   *constraint.Manager
	generator *window.Generator
	validator *window.Validator
	scorer    *window.Scorer
	selector  *window.Selector
	precheck  *precheck.Analyzer
	detector  *validator.ConflictDetector
	resolver  *resolver.Resolver
	monitor   *monitor.Monitor
	solver    *solver.Client
	sink      monitor.AlertSink
	logger    *logger.PipelineLogger
}

// Option 流水线选项
type Option func(*Pipeline)

// WithWeights 设置权重来源
func WithWeights(w WeightProvider) Option {
	return func(p *Pipeline) { p.weights = w }
}

// WithCalendar 设置节假日日历
func WithCalendar(cal *calendar.Calendar) Option {
	return func(p *Pipeline) { p.calendar = cal }
}

// WithAlertSink 设置告警下游
func WithAlertSink(sink monitor.AlertSink) Option {
	return func(p *Pipeline) { p.sink = sink }
}

// WithSolver 设置求解服务客户端
func WithSolver(c *solver.Client) Option {
	return func(p *Pipeline) { p.solver = c }
}

// New 创建流水线
func New(cfg Config, opts ...Option) *Pipeline {
	if cfg.MaxRecursionDepth < 0 {
		cfg.MaxRecursionDepth = 0
	}
	if cfg.WidenDays <= 0 {
		cfg.WidenDays = DefaultConfig().WidenDays
	}

	p := &Pipeline{
		config:   cfg,
		rotation: rotation.NewCalculator(),
		calendar: calendar.Empty(),
		weights:  weights.NewProvider(weights.NewStaticSource(nil)),
		manager:  constraint.NewDefaultManager(),
		logger:   logger.NewPipelineLogger("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.generator = window.NewGenerator(cfg.MaxWindows)
	p.validator = window.NewValidator(p.manager)
	p.scorer = window.NewScorer(p.rotation,
		window.WithCalendar(p.calendar),
		window.WithInterchange(cfg.Interchange[0], cfg.Interchange[1]),
		window.WithWorkers(cfg.ScoreWorkers),
		window.WithCacheTTL(cfg.ScoreCacheTTL, nil),
	)
	p.selector = window.NewSelector(cfg.ConfidenceFloor, cfg.Alternatives)
	p.precheck = precheck.NewAnalyzer(p.rotation)
	p.detector = validator.NewConflictDetector(nil)
	p.resolver = resolver.New(cfg.Allocator, p.manager, p.rotation)

	monitorOpts := []monitor.Option{monitor.WithRotation(p.rotation)}
	if p.sink != nil {
		monitorOpts = append(monitorOpts, monitor.WithSink(p.sink))
	}
	p.monitor = monitor.New(cfg.Monitor, monitorOpts...)
	return p
}

// Config 当前参数
func (p *Pipeline) Config() Config {
	return p.config
}

// Rotation 共享的轮班计算器
func (p *Pipeline) Rotation() *rotation.Calculator {
	return p.rotation
}

// Calendar 节假日日历
func (p *Pipeline) Calendar() *calendar.Calendar {
	return p.calendar
}

// Weights 当前约束权重
func (p *Pipeline) Weights(ctx context.Context) model.ConstraintWeights {
	return p.weights.Weights(ctx)
}

// Rules 已注册的硬约束规则
func (p *Pipeline) Rules() []constraint.Constraint {
	return p.manager.GetAll()
}

// WorkloadSummary 工作量与覆盖情况
type WorkloadSummary struct {
	Workload *stats.WorkloadReport  `json:"workload"`
	Coverage *stats.CoverageMetrics `json:"coverage"`
}

// Workload 统计考官工作量与每日覆盖
func (p *Pipeline) Workload(assignments []*model.Assignment, examiners []*model.Examiner) (*WorkloadSummary, error) {
	if err := model.ValidateRoster(nil, examiners); err != nil {
		return nil, err
	}
	if err := model.ValidateAssignments(assignments); err != nil {
		return nil, err
	}
	return &WorkloadSummary{
		Workload: stats.NewWorkloadAnalyzer(stats.DefaultThresholds()).Analyze(assignments, examiners),
		Coverage: stats.Coverage(assignments),
	}, nil
}

// PreCheck 求解前的资源可行性分析
func (p *Pipeline) PreCheck(candidates []*model.Candidate, examiners []*model.Examiner, dates []string) (*model.FeasibilityReport, error) {
	if err := model.ValidateRoster(candidates, examiners); err != nil {
		return nil, err
	}
	start := time.Now()
	report := p.precheck.Analyze(candidates, examiners, window.NormalizeDates(dates))
	metrics.SetGauge(metrics.MetricFeasibilityScore, report.Score)
	metrics.RecordStage("precheck", report.Feasible, time.Since(start))
	return report, nil
}

// DetectConflicts 检测安排中的冲突
func (p *Pipeline) DetectConflicts(assignments []*model.Assignment, examiners []*model.Examiner) ([]model.ConflictRecord, error) {
	if err := model.ValidateAssignments(assignments); err != nil {
		return nil, err
	}
	return p.detector.DetectAll(assignments, examiners), nil
}

// Balance 均衡考官工作量
func (p *Pipeline) Balance(ctx context.Context, assignments []*model.Assignment, examiners []*model.Examiner) (*balance.Result, error) {
	if err := model.ValidateRoster(nil, examiners); err != nil {
		return nil, err
	}
	if err := model.ValidateAssignments(assignments); err != nil {
		return nil, err
	}
	return balance.New(p.config.Balance, p.manager, p.rotation).Balance(ctx, assignments, examiners)
}

// ResolveConflict 逐级解决冲突
func (p *Pipeline) ResolveConflict(ctx context.Context, conflict model.ConflictRecord, state resolver.State) (*resolver.Resolution, error) {
	if err := model.ValidateRoster(state.Candidates, state.Examiners); err != nil {
		return nil, err
	}
	if err := model.ValidateAssignments(state.Assignments); err != nil {
		return nil, err
	}
	return p.resolver.Resolve(ctx, conflict, state)
}

// ResolutionStatistics 各级解决策略的统计
func (p *Pipeline) ResolutionStatistics() map[resolver.Level]resolver.LevelStats {
	return p.resolver.Statistics()
}

// Monitor 计算系统状态并产生告警
func (p *Pipeline) Monitor(ctx context.Context, assignments []*model.Assignment, examiners []*model.Examiner, candidates []*model.Candidate) (*monitor.CheckResult, error) {
	if err := model.ValidateRoster(candidates, examiners); err != nil {
		return nil, err
	}
	if err := model.ValidateAssignments(assignments); err != nil {
		return nil, err
	}
	return p.monitor.Check(ctx, monitor.Snapshot{
		Assignments: assignments,
		Examiners:   examiners,
		Candidates:  candidates,
	}), nil
}

// Predict 预测未来若干天的风险
func (p *Pipeline) Predict(snap monitor.Snapshot, from string, horizonDays int) ([]monitor.DateRisk, error) {
	if err := model.ValidateRoster(snap.Candidates, snap.Examiners); err != nil {
		return nil, err
	}
	return p.monitor.PredictiveAnalysis(snap, from, horizonDays)
}

// RunMonitor 定时监控，直到 ctx 结束
func (p *Pipeline) RunMonitor(ctx context.Context, interval time.Duration, snapshot monitor.SnapshotFunc) error {
	return p.monitor.Run(ctx, interval, snapshot)
}

// Alerts 未解除的告警
func (p *Pipeline) Alerts() []model.Alert {
	return p.monitor.ActiveAlerts()
}
