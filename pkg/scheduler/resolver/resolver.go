// Package resolver 按固定顺序逐级升级地解决考试安排冲突
package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paiban/examplan/internal/metrics"
	"github.com/paiban/examplan/pkg/logger"
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/rotation"
	"github.com/paiban/examplan/pkg/scheduler/allocator"
	"github.com/paiban/examplan/pkg/scheduler/constraint"
	"github.com/paiban/examplan/pkg/validator"
)

// Level 解决级别
type Level string

const (
	LevelParameterTuning      Level = "PARAMETER_TUNING"
	LevelLocalReschedule      Level = "LOCAL_RESCHEDULE"
	LevelGlobalReoptimization Level = "GLOBAL_REOPTIMIZATION"
	LevelConstraintRelaxation Level = "CONSTRAINT_RELAXATION"
	LevelManual               Level = "MANUAL"

	// LevelAlreadyResolved 目标冲突在解决前已不存在，未执行任何级别
	LevelAlreadyResolved Level = "ALREADY_RESOLVED"
)

// ManualInterventionRequired 四级策略均失败时的提示
const ManualInterventionRequired = "需要人工介入（manual intervention required）"

// Levels 自动解决的执行顺序
var Levels = []Level{
	LevelParameterTuning,
	LevelLocalReschedule,
	LevelGlobalReoptimization,
	LevelConstraintRelaxation,
}

// State 冲突所在的排程状态
type State struct {
	Candidates  []*model.Candidate  `json:"candidates"`
	Examiners   []*model.Examiner   `json:"examiners"`
	Assignments []*model.Assignment `json:"assignments"`
}

// Change 一次考官变更
type Change struct {
	CandidateID string     `json:"candidate_id"`
	Date        string     `json:"date"`
	Role        model.Role `json:"role"`
	From        string     `json:"from,omitempty"`
	To          string     `json:"to,omitempty"`
}

// Resolution 解决结果
type Resolution struct {
	ID              string                 `json:"id"`
	ConflictID      string                 `json:"conflict_id"`
	Success         bool                   `json:"success"`
	Level           Level                  `json:"level"`
	Message         string                 `json:"message"`
	Changes         []Change               `json:"changes"`
	RemainingIssues []model.ConflictRecord `json:"remaining_issues"`
	Assignments     []*model.Assignment    `json:"assignments"`
	Attempts        []Attempt              `json:"attempts"`
	Duration        time.Duration          `json:"duration"`
}

// Attempt 单次尝试记录
type Attempt struct {
	ID           string             `json:"id"`
	ConflictID   string             `json:"conflict_id"`
	ConflictKind model.ConflictKind `json:"conflict_kind"`
	Level        Level              `json:"level"`
	Success      bool               `json:"success"`
	Message      string             `json:"message"`
	Changes      int                `json:"changes"`
	Timestamp    time.Time          `json:"timestamp"`
	Duration     time.Duration      `json:"duration"`
}

// LevelStats 每级统计
type LevelStats struct {
	Attempts    int     `json:"attempts"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// outcome 策略执行结果
type outcome struct {
	assignments []*model.Assignment
	message     string
	// relaxed 本级允许遗留非目标问题
	relaxed bool
}

// strategy 单级策略
type strategy func(ctx context.Context, target model.ConflictRecord, state State) (*outcome, error)

// Resolver 冲突解决器
type Resolver struct {
	manager    *constraint.Manager
	rotation   *rotation.Calculator
	detector   *validator.ConflictDetector
	allocCfg   allocator.Config
	strategies map[Level]strategy
	now        func() time.Time

	mu      sync.Mutex
	history []Attempt

	logger *logger.PipelineLogger
}

// New 创建冲突解决器
func New(allocCfg allocator.Config, manager *constraint.Manager, rot *rotation.Calculator) *Resolver {
	if manager == nil {
		manager = constraint.NewDefaultManager()
	}
	if rot == nil {
		rot = rotation.NewCalculator()
	}
	r := &Resolver{
		manager:  manager,
		rotation: rot,
		detector: validator.NewConflictDetector(nil),
		allocCfg: allocCfg,
		now:      time.Now,
		logger:   logger.NewPipelineLogger("resolver"),
	}
	r.strategies = map[Level]strategy{
		LevelParameterTuning:      r.parameterTuning,
		LevelLocalReschedule:      r.localReschedule,
		LevelGlobalReoptimization: r.globalReoptimization,
		LevelConstraintRelaxation: r.constraintRelaxation,
	}
	return r
}

// Resolve 依次尝试四级策略，首个成功的级别终止升级
func (r *Resolver) Resolve(ctx context.Context, target model.ConflictRecord, state State) (*Resolution, error) {
	start := r.now()
	res := &Resolution{
		ID:          uuid.NewString(),
		ConflictID:  target.ID,
		Level:       LevelManual,
		Changes:     []Change{},
		Assignments: state.Assignments,
	}

	before := r.detector.DetectAll(state.Assignments, state.Examiners)
	if !targetPresent(target, state, before) {
		res.Success = true
		res.Level = LevelAlreadyResolved
		res.Message = "冲突已不存在"
		res.RemainingIssues = before
		res.Duration = r.now().Sub(start)
		return res, nil
	}

	for _, level := range Levels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptStart := r.now()
		out, err := r.run(ctx, level, target, state)
		attempt := Attempt{
			ID:           uuid.NewString(),
			ConflictID:   target.ID,
			ConflictKind: target.Kind,
			Level:        level,
			Timestamp:    attemptStart,
		}

		var after []model.ConflictRecord
		var changes []Change
		switch {
		case err != nil:
			attempt.Message = err.Error()
		case out == nil:
			attempt.Message = "本级策略不适用"
		default:
			after = r.detector.DetectAll(out.assignments, state.Examiners)
			changes = diff(state.Assignments, out.assignments)
			attempt.Changes = len(changes)
			attempt.Success = r.resolved(target, before, after, out, state)
			attempt.Message = out.message
		}
		attempt.Duration = r.now().Sub(attemptStart)
		r.record(attempt)
		res.Attempts = append(res.Attempts, attempt)

		if attempt.Success {
			res.Success = true
			res.Level = level
			res.Message = out.message
			res.Changes = changes
			res.Assignments = out.assignments
			res.RemainingIssues = after
			break
		}
	}

	if !res.Success {
		res.Message = ManualInterventionRequired
		res.RemainingIssues = before
		metrics.IncCounter(metrics.MetricResolutions, string(LevelManual), "failure")
	}
	res.Duration = r.now().Sub(start)

	r.logger.Logger().Info().
		Str("conflict_id", target.ID).
		Str("kind", string(target.Kind)).
		Str("level", string(res.Level)).
		Bool("success", res.Success).
		Int("attempts", len(res.Attempts)).
		Msg("冲突解决结束")

	return res, nil
}

// run 执行单级策略，策略内部的异常按失败处理
func (r *Resolver) run(ctx context.Context, level Level, target model.ConflictRecord, state State) (out *outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Recovered(string(level), rec)
			out, err = nil, fmt.Errorf("策略 %s 执行异常", level)
		}
	}()
	return r.strategies[level](ctx, target, state)
}

// resolved 目标冲突消失且高危冲突不增加；放宽级别允许遗留其他问题
func (r *Resolver) resolved(target model.ConflictRecord, before, after []model.ConflictRecord, out *outcome, state State) bool {
	if targetPresent(target, State{Candidates: state.Candidates, Examiners: state.Examiners, Assignments: out.assignments}, after) {
		return false
	}
	if out.relaxed {
		return true
	}
	return countBlocking(after) <= countBlocking(before)
}

func (r *Resolver) record(a Attempt) {
	r.mu.Lock()
	r.history = append(r.history, a)
	r.mu.Unlock()

	result := "failure"
	if a.Success {
		result = "success"
	}
	metrics.IncCounter(metrics.MetricResolutions, string(a.Level), result)
}

// History 返回历史记录副本
func (r *Resolver) History() []Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Attempt, len(r.history))
	copy(out, r.history)
	return out
}

// Statistics 按级别统计尝试与成功次数
func (r *Resolver) Statistics() map[Level]LevelStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[Level]LevelStats, len(Levels))
	for _, a := range r.history {
		s := out[a.Level]
		s.Attempts++
		if a.Success {
			s.Successes++
		}
		out[a.Level] = s
	}
	for level, s := range out {
		if s.Attempts > 0 {
			s.SuccessRate = float64(s.Successes) / float64(s.Attempts)
		}
		out[level] = s
	}
	return out
}

// targetPresent 目标冲突是否仍然存在
func targetPresent(target model.ConflictRecord, state State, conflicts []model.ConflictRecord) bool {
	if target.Kind == model.ConflictUnallocated {
		for _, id := range target.AffectedEntities {
			if isCandidate(state.Candidates, id) && !hasCompleteAssignment(state.Assignments, id) {
				return true
			}
		}
		return false
	}
	for _, c := range conflicts {
		if matches(target, c) {
			return true
		}
	}
	return false
}

// matches 同类型、同日期（若指定）且涉及相同实体
func matches(target, c model.ConflictRecord) bool {
	if c.Kind != target.Kind {
		return false
	}
	if target.Date != "" && c.Date != target.Date {
		return false
	}
	if len(target.AffectedEntities) == 0 {
		return true
	}
	for _, a := range target.AffectedEntities {
		for _, b := range c.AffectedEntities {
			if a == b {
				return true
			}
		}
	}
	return false
}

func countBlocking(conflicts []model.ConflictRecord) int {
	n := 0
	for _, c := range conflicts {
		if c.Severity.Rank() >= model.RiskHigh.Rank() {
			n++
		}
	}
	return n
}

func isCandidate(candidates []*model.Candidate, id string) bool {
	for _, c := range candidates {
		if c.ID == id {
			return true
		}
	}
	return false
}

func hasCompleteAssignment(assignments []*model.Assignment, candidateID string) bool {
	for _, a := range assignments {
		if a.CandidateID == candidateID && a.IsComplete() {
			return true
		}
	}
	return false
}

// diff 比较前后安排的考官变化
func diff(before, after []*model.Assignment) []Change {
	old := make(map[string]map[string]model.ExamDay)
	for _, a := range before {
		days := make(map[string]model.ExamDay, len(a.Days))
		for _, d := range a.Days {
			days[d.Date] = d
		}
		old[a.CandidateID] = days
	}

	changes := []Change{}
	for _, a := range after {
		for _, d := range a.Days {
			prev := old[a.CandidateID][d.Date]
			for _, role := range []model.Role{model.RolePrimary, model.RoleSecondary, model.RoleBackup} {
				if from, to := prev.Examiner(role), d.Examiner(role); from != to {
					changes = append(changes, Change{CandidateID: a.CandidateID, Date: d.Date, Role: role, From: from, To: to})
				}
			}
		}
	}
	return changes
}
