// Package allocator 为已确定考试日期的考生分配主考官、副考官与备份考官
package allocator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/paiban/examplan/internal/metrics"
	"github.com/paiban/examplan/pkg/logger"
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/rotation"
	"github.com/paiban/examplan/pkg/scheduler/constraint"
	"github.com/paiban/examplan/pkg/scheduler/optimizer"
)

// 评分参数
const (
	baseScore          = 100.0
	workloadPenalty    = 2.0  // 每个已有任务
	consecutivePenalty = 5.0  // 每个连续工作日
	restBonus          = 5.0  // 每个休息日
	adminBonus         = 3.0  // 行政人员每日
	nightBonus         = 1.0  // 夜班组每日
	recommendedBonus   = 15.0 // 副考官来自推荐科室
)

// Config 分配配置
type Config struct {
	BatchSize      int     `json:"batch_size" yaml:"batch_size"`
	Workers        int     `json:"workers" yaml:"workers"`
	RelaxedPenalty float64 `json:"relaxed_penalty" yaml:"relaxed_penalty"`
	AllowRelaxed   bool    `json:"allow_relaxed" yaml:"allow_relaxed"`
	FillBackup     bool    `json:"fill_backup" yaml:"fill_backup"`
	// ScarceFirst 同科室考官越少的考生越先分配
	ScarceFirst bool `json:"scarce_first" yaml:"scarce_first"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		BatchSize:      8,
		Workers:        4,
		RelaxedPenalty: 30,
		AllowRelaxed:   true,
		FillBackup:     true,
		ScarceFirst:    true,
	}
}

// Request 分配请求
type Request struct {
	Candidates []*model.Candidate  `json:"candidates" validate:"required,dive"`
	Examiners  []*model.Examiner   `json:"examiners" validate:"required,dive"`
	Existing   []*model.Assignment `json:"existing,omitempty" validate:"omitempty,dive"`
}

// Unallocated 未能分配的考生
type Unallocated struct {
	CandidateID   string `json:"candidate_id"`
	CandidateName string `json:"candidate_name"`
	Department    string `json:"department"`
	Reason        string `json:"reason"`
}

// PerformanceStats 分配过程统计
type PerformanceStats struct {
	Duration       time.Duration `json:"duration"`
	Batches        int           `json:"batches"`
	Workers        int           `json:"workers"`
	PairsEvaluated int           `json:"pairs_evaluated"`
	Reevaluations  int           `json:"reevaluations"`
	RelaxedCount   int           `json:"relaxed_count"`
	BackupFilled   int           `json:"backup_filled"`
	AllocationRate float64       `json:"allocation_rate"`
}

// Result 分配结果
type Result struct {
	Allocations []*model.Assignment    `json:"allocations"`
	Conflicts   []model.ConflictRecord `json:"conflicts"`
	Unallocated []Unallocated          `json:"unallocated"`
	Stats       PerformanceStats       `json:"performance_stats"`
	Success     bool                   `json:"success"`
}

// Allocator 考官分配器
type Allocator struct {
	config    Config
	manager   *constraint.Manager
	rotation  *rotation.Calculator
	evaluator *optimizer.ParallelEvaluator[*model.Candidate, *pick]
	logger    *logger.PipelineLogger
}

// New 创建分配器，manager 为 nil 时使用默认规则
func New(cfg Config, manager *constraint.Manager, rot *rotation.Calculator) *Allocator {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.RelaxedPenalty <= 0 {
		cfg.RelaxedPenalty = def.RelaxedPenalty
	}
	if manager == nil {
		manager = constraint.NewDefaultManager()
	}
	if rot == nil {
		rot = rotation.NewCalculator()
	}
	return &Allocator{
		config:    cfg,
		manager:   manager,
		rotation:  rot,
		evaluator: optimizer.NewParallelEvaluator[*model.Candidate, *pick](cfg.Workers),
		logger:    logger.NewPipelineLogger("allocator"),
	}
}

// Config 返回当前配置
func (a *Allocator) Config() Config {
	return a.config
}

// pick 单个考生的最佳分配方案
type pick struct {
	candidate *model.Candidate
	primary   *model.Examiner
	secondary *model.Examiner
	backup    *model.Examiner
	score     float64
	relaxed   bool
	reason    string
	evaluated int
	// considered 评估时任一角色合格的考官，它们的负载或占用变化会改变结果
	considered map[string]bool
}

func (p *pick) ok() bool {
	return p.primary != nil && p.secondary != nil
}

// examinerIDs 该方案占用的考官
func (p *pick) examinerIDs() []string {
	var ids []string
	for _, e := range []*model.Examiner{p.primary, p.secondary, p.backup} {
		if e != nil {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// Allocate 执行分配
//
// 考生按批处理：同批考生基于批次开始时的快照并行评估，再按输入顺序依次提交；
// 同批已提交的方案占用了某考生评估时考虑过的考官，则基于最新状态重新评估，
// 因此结果与批大小、并发数无关。
func (a *Allocator) Allocate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	a.logger.StageStart(runID, len(req.Candidates), len(req.Examiners))

	result := &Result{
		Allocations: make([]*model.Assignment, 0, len(req.Candidates)),
		Conflicts:   make([]model.ConflictRecord, 0),
		Unallocated: make([]Unallocated, 0),
		Stats:       PerformanceStats{Workers: a.config.Workers},
	}

	candidates := a.order(req.Candidates, req.Examiners)
	committed := model.CloneAssignments(req.Existing)

	for offset := 0; offset < len(candidates); offset += a.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := offset + a.config.BatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[offset:end]
		result.Stats.Batches++

		snapshot := constraint.NewContext(nil, req.Examiners, committed, a.rotation)
		evaluations := a.evaluator.EvaluateBatch(ctx, batch, func(_ context.Context, c *model.Candidate) (*pick, error) {
			return a.evaluate(snapshot, c), nil
		})

		touched := make(map[string]bool)
		for i, ev := range evaluations {
			p := ev.Value
			if ev.Err != nil || p == nil {
				if err := ctx.Err(); err != nil {
					return result, err
				}
				p = &pick{candidate: batch[i], reason: "评估失败"}
			}
			result.Stats.PairsEvaluated += p.evaluated

			if stale(p, touched) {
				result.Stats.Reevaluations++
				fresh := constraint.NewContext(nil, req.Examiners, committed, a.rotation)
				p = a.evaluate(fresh, batch[i])
				result.Stats.PairsEvaluated += p.evaluated
			}

			if !p.ok() {
				result.Unallocated = append(result.Unallocated, Unallocated{
					CandidateID:   p.candidate.ID,
					CandidateName: p.candidate.Name,
					Department:    p.candidate.Department,
					Reason:        p.reason,
				})
				result.Conflicts = append(result.Conflicts, unallocatedConflict(p))
				continue
			}

			assignment := toAssignment(p)
			committed = append(committed, assignment)
			for _, id := range p.examinerIDs() {
				touched[id] = true
			}
			result.Allocations = append(result.Allocations, assignment)

			if p.relaxed {
				result.Stats.RelaxedCount++
				result.Conflicts = append(result.Conflicts, relaxedConflict(p))
			}
			if p.backup != nil {
				result.Stats.BackupFilled++
			}
		}
	}

	if len(candidates) > 0 {
		result.Stats.AllocationRate = float64(len(result.Allocations)) / float64(len(candidates))
	}
	result.Success = len(result.Unallocated) == 0
	result.Stats.Duration = time.Since(start)

	metrics.SetGauge(metrics.MetricAllocated, float64(len(result.Allocations)))
	metrics.SetGauge(metrics.MetricUnallocated, float64(len(result.Unallocated)))
	metrics.RecordStage("allocate", result.Success, result.Stats.Duration)
	a.logger.StageComplete(runID, result.Stats.Duration, result.Stats.AllocationRate*100)

	return result, nil
}

// order 返回处理顺序
func (a *Allocator) order(candidates []*model.Candidate, examiners []*model.Examiner) []*model.Candidate {
	out := make([]*model.Candidate, len(candidates))
	copy(out, candidates)
	if !a.config.ScarceFirst {
		return out
	}
	perDept := make(map[string]int)
	for _, e := range examiners {
		perDept[e.Department]++
	}
	sort.SliceStable(out, func(i, j int) bool {
		return perDept[out[i].Department] < perDept[out[j].Department]
	})
	return out
}

// evaluate 为单个考生寻找最佳主副考官组合，先严格后放宽
func (a *Allocator) evaluate(base *constraint.Context, c *model.Candidate) *pick {
	dates := c.ExamDates
	if len(dates) == 0 {
		return &pick{candidate: c, reason: "未指定考试日期"}
	}

	ctx := base.WithCandidate(c)
	if len(dates) >= 2 {
		ctx = ctx.WithWindow(dates[0], dates[1])
	} else {
		ctx = ctx.WithWindow(dates[0], "")
	}
	load := examinerLoad(ctx.Commitments)
	considered := make(map[string]bool)

	best := a.bestPair(ctx, c, dates, load, false, considered)
	if !best.ok() && a.config.AllowRelaxed {
		relaxedCtx := *ctx
		relaxedCtx.Relaxed = true
		relaxed := a.bestPair(&relaxedCtx, c, dates, load, true, considered)
		relaxed.evaluated += best.evaluated
		if relaxed.ok() {
			best = relaxed
		} else {
			best.evaluated = relaxed.evaluated
		}
	}
	best.considered = considered
	if !best.ok() {
		return best
	}

	if a.config.FillBackup {
		best.backup = a.bestBackup(ctx, c, dates, load, best)
	}
	return best
}

// bestPair 穷举主副考官组合
func (a *Allocator) bestPair(ctx *constraint.Context, c *model.Candidate, dates []string, load map[string]int, relaxed bool, considered map[string]bool) *pick {
	var primaries, secondaries []*model.Examiner
	for _, e := range ctx.Examiners {
		if a.eligible(ctx, c, e, model.RolePrimary, dates) {
			primaries = append(primaries, e)
			considered[e.ID] = true
		}
		if a.eligible(ctx, c, e, model.RoleSecondary, dates) {
			secondaries = append(secondaries, e)
			considered[e.ID] = true
		}
	}

	result := &pick{candidate: c, relaxed: relaxed}
	switch {
	case len(primaries) == 0:
		result.reason = fmt.Sprintf("%s 无可用的同科室主考官", c.Department)
		return result
	case len(secondaries) == 0:
		result.reason = "无可用的副考官"
		return result
	}

	recommended := make(map[string]bool, len(c.RecommendedDepartments))
	for _, d := range c.RecommendedDepartments {
		recommended[d] = true
	}

	found := false
	for _, p := range primaries {
		ps := a.examinerScore(p, dates, load)
		for _, s := range secondaries {
			if p.ID == s.ID {
				continue
			}
			result.evaluated++
			score := baseScore + ps + a.examinerScore(s, dates, load)
			if recommended[s.Department] {
				score += recommendedBonus
			}
			if relaxed {
				score -= a.config.RelaxedPenalty
			}
			if !found || score > result.score {
				found = true
				result.primary, result.secondary, result.score = p, s, score
			}
		}
	}
	if !found {
		result.reason = "主副考官不能为同一人"
	}
	return result
}

// bestBackup 选取剩余考官中得分最高者作为备份
func (a *Allocator) bestBackup(ctx *constraint.Context, c *model.Candidate, dates []string, load map[string]int, p *pick) *model.Examiner {
	var best *model.Examiner
	var bestScore float64
	for _, e := range ctx.Examiners {
		if e.ID == p.primary.ID || e.ID == p.secondary.ID {
			continue
		}
		if !a.eligible(ctx, c, e, model.RoleBackup, dates) {
			continue
		}
		p.considered[e.ID] = true
		score := a.examinerScore(e, dates, load)
		if best == nil || score > bestScore {
			best, bestScore = e, score
		}
	}
	return best
}

// eligible 考官能否在所有日期担任该角色
func (a *Allocator) eligible(ctx *constraint.Context, c *model.Candidate, e *model.Examiner, role model.Role, dates []string) bool {
	for _, d := range dates {
		ok, _ := a.manager.CanAssign(ctx, constraint.Placement{
			CandidateID: c.ID,
			Department:  c.Department,
			Date:        d,
			Role:        role,
			ExaminerID:  e.ID,
		})
		if !ok {
			return false
		}
	}
	return true
}

// examinerScore 单个考官的得分调整
func (a *Allocator) examinerScore(e *model.Examiner, dates []string, load map[string]int) float64 {
	score := -workloadPenalty*float64(e.Workload+load[e.ID]) - consecutivePenalty*float64(e.ConsecutiveDays)
	for _, d := range dates {
		switch a.rotation.Status(e.Group, d) {
		case model.StatusRest:
			score += restBonus
		case model.StatusAdministrative:
			score += adminBonus
		case model.StatusNightShift:
			score += nightBonus
		}
	}
	return score
}

// examinerLoad 每位考官已占用的天数
func examinerLoad(c model.Commitments) map[string]int {
	load := make(map[string]int)
	for _, byID := range c {
		for id := range byID {
			load[id]++
		}
	}
	return load
}

// stale 同批已提交的方案是否占用了评估时考虑过的考官
//
// 约束只依赖考官自身的占用，未被考虑的考官占用增加后仍不合格，
// 因此只需检查考虑过的考官。
func stale(p *pick, touched map[string]bool) bool {
	for id := range p.considered {
		if touched[id] {
			return true
		}
	}
	return false
}

func toAssignment(p *pick) *model.Assignment {
	a := &model.Assignment{
		ID:            uuid.NewString(),
		CandidateID:   p.candidate.ID,
		CandidateName: p.candidate.Name,
		Department:    p.candidate.Department,
		Relaxed:       p.relaxed,
		Score:         p.score,
	}
	for _, d := range p.candidate.ExamDates {
		day := model.ExamDay{Date: d, Primary: p.primary.ID, Secondary: p.secondary.ID}
		if p.backup != nil {
			day.Backup = p.backup.ID
		}
		a.Days = append(a.Days, day)
	}
	return a
}

func unallocatedConflict(p *pick) model.ConflictRecord {
	return model.ConflictRecord{
		ID:               uuid.NewString(),
		Kind:             model.ConflictUnallocated,
		Severity:         model.RiskHigh,
		Description:      fmt.Sprintf("考生 %s 未能分配考官：%s", p.candidate.Name, p.reason),
		AffectedEntities: []string{p.candidate.ID},
		SuggestedFixes:   []string{"调整考试日期", "增加同科室考官", "放宽副考官科室限制"},
		AutoResolvable:   true,
	}
}

func relaxedConflict(p *pick) model.ConflictRecord {
	return model.ConflictRecord{
		ID:               uuid.NewString(),
		Kind:             model.ConflictDepartmentRule,
		Severity:         model.RiskMedium,
		Description:      fmt.Sprintf("考生 %s 的副考官 %s 来自同科室（放宽分配）", p.candidate.Name, p.secondary.Name),
		AffectedEntities: []string{p.candidate.ID, p.secondary.ID},
		SuggestedFixes:   []string{"寻找异科室考官替换副考官"},
		AutoResolvable:   false,
	}
}
