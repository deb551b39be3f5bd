// Package balance 在不违反硬约束的前提下，把考试角色从过载考官转移给低负荷考官
package balance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/paiban/examplan/internal/metrics"
	"github.com/paiban/examplan/pkg/logger"
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/rotation"
	"github.com/paiban/examplan/pkg/scheduler/constraint"
	"github.com/paiban/examplan/pkg/scheduler/optimizer"
	"github.com/paiban/examplan/pkg/stats"
)

// Config 均衡配置
type Config struct {
	MaxIterations int              `json:"max_iterations" yaml:"max_iterations"`
	Thresholds    stats.Thresholds `json:"thresholds" yaml:"thresholds"`
	// MoveBackups 是否也转移备份角色
	MoveBackups bool `json:"move_backups" yaml:"move_backups"`
	TabuSize    int  `json:"tabu_size" yaml:"tabu_size"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxIterations: 50,
		Thresholds:    stats.DefaultThresholds(),
		MoveBackups:   true,
		TabuSize:      64,
	}
}

// TightConfig 收紧阈值后的配置，过载/低负荷的判定更敏感
func TightConfig() Config {
	cfg := DefaultConfig()
	cfg.Thresholds.OverloadFactor = 1.15
	cfg.Thresholds.UnderloadFactor = 0.85
	cfg.MaxIterations = 100
	return cfg
}

// Transfer 一次角色转移
type Transfer struct {
	CandidateID  string     `json:"candidate_id"`
	Role         model.Role `json:"role"`
	Dates        []string   `json:"dates"`
	FromExaminer string     `json:"from_examiner"`
	ToExaminer   string     `json:"to_examiner"`
	Reason       string     `json:"reason"`
}

// Result 均衡结果
type Result struct {
	Assignments    []*model.Assignment   `json:"assignments"`
	Transfers      []Transfer            `json:"transfers"`
	VarianceBefore float64               `json:"variance_before"`
	VarianceAfter  float64               `json:"variance_after"`
	Before         *stats.WorkloadReport `json:"before"`
	After          *stats.WorkloadReport `json:"after"`
	Iterations     int                   `json:"iterations"`
	Duration       time.Duration         `json:"duration"`
}

// Improved 方差是否下降
func (r *Result) Improved() bool {
	return r.VarianceAfter < r.VarianceBefore
}

// Balancer 工作量均衡器
type Balancer struct {
	config   Config
	analyzer *stats.WorkloadAnalyzer
	manager  *constraint.Manager
	rotation *rotation.Calculator
	logger   *logger.PipelineLogger
}

// New 创建均衡器
func New(cfg Config, manager *constraint.Manager, rot *rotation.Calculator) *Balancer {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if cfg.TabuSize <= 0 {
		cfg.TabuSize = DefaultConfig().TabuSize
	}
	if manager == nil {
		manager = constraint.NewDefaultManager()
	}
	if rot == nil {
		rot = rotation.NewCalculator()
	}
	return &Balancer{
		config:   cfg,
		analyzer: stats.NewWorkloadAnalyzer(cfg.Thresholds),
		manager:  manager,
		rotation: rot,
		logger:   logger.NewPipelineLogger("balance"),
	}
}

// Analyze 统计当前工作量
func (b *Balancer) Analyze(assignments []*model.Assignment, examiners []*model.Examiner) *stats.WorkloadReport {
	return b.analyzer.Analyze(assignments, examiners)
}

// move 候选转移
type move struct {
	assignment int
	role       model.Role
	from, to   string
	delta      float64
}

// Balance 执行均衡，输入不会被修改
//
// 每轮从负荷最高的过载考官开始，在低负荷考官中寻找第一个能严格缩小两人差距的转移：
// 转出方与转入方的负荷差必须大于转移量，因此每次转移都会降低方差。
func (b *Balancer) Balance(ctx context.Context, assignments []*model.Assignment, examiners []*model.Examiner) (*Result, error) {
	start := time.Now()
	work := model.CloneAssignments(assignments)
	tabu := optimizer.NewTabuList[string](b.config.TabuSize)

	before := b.analyzer.Analyze(work, examiners)
	result := &Result{
		Transfers:      make([]Transfer, 0),
		Before:         before,
		VarianceBefore: before.Variance,
	}

	report := before
	for result.Iterations < b.config.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(report.Overloaded) == 0 {
			break
		}

		m, ok := b.findMove(work, examiners, report, tabu)
		if !ok {
			break
		}
		result.Iterations++

		a := work[m.assignment]
		for i := range a.Days {
			if a.Days[i].Examiner(m.role) == m.from {
				a.Days[i].SetExaminer(m.role, m.to)
			}
		}
		tabu.Add(tabuKey(a.CandidateID, m.role, m.from))

		result.Transfers = append(result.Transfers, Transfer{
			CandidateID:  a.CandidateID,
			Role:         m.role,
			Dates:        a.Dates(),
			FromExaminer: m.from,
			ToExaminer:   m.to,
			Reason:       fmt.Sprintf("负荷 %.1f → %.1f", report.Stat(m.from).TotalTasks, report.Stat(m.to).TotalTasks),
		})
		report = b.analyzer.Analyze(work, examiners)
	}

	result.Assignments = work
	result.After = report
	result.VarianceAfter = report.Variance
	result.Duration = time.Since(start)

	metrics.RecordStage("balance", true, result.Duration)
	b.logger.Logger().Info().
		Int("transfers", len(result.Transfers)).
		Float64("variance_before", result.VarianceBefore).
		Float64("variance_after", result.VarianceAfter).
		Msg("工作量均衡完成")

	return result, nil
}

// findMove 寻找一次可行且能改善的转移，只从过载考官转给低负荷考官
func (b *Balancer) findMove(work []*model.Assignment, examiners []*model.Examiner, report *stats.WorkloadReport, tabu *optimizer.TabuList[string]) (move, bool) {
	if len(report.Underloaded) == 0 {
		return move{}, false
	}
	overloaded := sortedByLoad(report, report.Overloaded, true)
	targets := sortedByLoad(report, report.Underloaded, false)

	roles := []model.Role{model.RolePrimary, model.RoleSecondary}
	if b.config.MoveBackups {
		roles = append(roles, model.RoleBackup)
	}

	base := constraint.NewContext(nil, examiners, work, b.rotation)
	for _, from := range overloaded {
		fromLoad := report.Stat(from).TotalTasks
		for ai, a := range work {
			for _, role := range roles {
				days := daysWithRole(a, role, from)
				if days == 0 {
					continue
				}
				delta := float64(days)
				if role == model.RoleBackup {
					delta *= stats.BackupTaskWeight
				}
				for _, to := range targets {
					if to == from || tabu.Contains(tabuKey(a.CandidateID, role, to)) {
						continue
					}
					if fromLoad-report.Stat(to).TotalTasks <= delta {
						break
					}
					if b.canTake(base, a, role, from, to) {
						return move{assignment: ai, role: role, from: from, to: to, delta: delta}, true
					}
				}
			}
		}
	}
	return move{}, false
}

// canTake 转入方能否在该考试的所有日期接手角色
func (b *Balancer) canTake(base *constraint.Context, a *model.Assignment, role model.Role, from, to string) bool {
	ctx := base.WithCandidate(&model.Candidate{ID: a.CandidateID, Department: a.Department})
	ctx.Relaxed = a.Relaxed

	for _, d := range a.Days {
		if d.Examiner(role) != from {
			continue
		}
		if d.Primary == to || d.Secondary == to || d.Backup == to {
			return false
		}
		ok, _ := b.manager.CanAssign(ctx, constraint.Placement{
			CandidateID: a.CandidateID,
			Department:  a.Department,
			Date:        d.Date,
			Role:        role,
			ExaminerID:  to,
		})
		if !ok {
			return false
		}
	}
	return true
}

func daysWithRole(a *model.Assignment, role model.Role, examinerID string) int {
	n := 0
	for _, d := range a.Days {
		if d.Examiner(role) == examinerID {
			n++
		}
	}
	return n
}

// sortedByLoad 按负荷排序，同负荷按ID
func sortedByLoad(report *stats.WorkloadReport, ids []string, desc bool) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := report.Stat(out[i]).TotalTasks, report.Stat(out[j]).TotalTasks
		if li != lj {
			if desc {
				return li > lj
			}
			return li < lj
		}
		return out[i] < out[j]
	})
	return out
}

func tabuKey(candidateID string, role model.Role, examinerID string) string {
	return candidateID + "|" + string(role) + "|" + examinerID
}
