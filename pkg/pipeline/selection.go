package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paiban/examplan/internal/metrics"
	apperrors "github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/scheduler/allocator"
	"github.com/paiban/examplan/pkg/scheduler/constraint"
	"github.com/paiban/examplan/pkg/scheduler/window"
	"github.com/paiban/examplan/pkg/solver"
	"github.com/paiban/examplan/pkg/weights"
)

// SelectionContext 窗口选择的上下文
type SelectionContext struct {
	// DateRange 候选日期范围，没有窗口通过校验时按 WidenDays 向两侧扩大
	DateRange *model.DateRange `json:"date_range,omitempty" validate:"omitempty"`
	// AvailableDates 显式给出的可用日期，优先于 DateRange，且不会扩大
	AvailableDates []string            `json:"available_dates,omitempty" validate:"omitempty,dive,datetime=2006-01-02"`
	Assignments    []*model.Assignment `json:"assignments,omitempty"`
	// ExcludeHolidays 排除节假日
	ExcludeHolidays bool `json:"exclude_holidays,omitempty"`
}

// SelectOptimalWindow 为单个考生选择最优考试窗口
//
// 生成 → 硬约束校验 → 六维评分 → 选择。没有窗口通过校验时扩大日期范围重试，
// 扩大次数不超过 MaxRecursionDepth。
func (p *Pipeline) SelectOptimalWindow(ctx context.Context, candidate *model.Candidate, examiners []*model.Examiner, sctx SelectionContext) (*window.Selection, error) {
	if candidate == nil {
		return nil, apperrors.InvalidInput("candidate", "不能为空")
	}
	if err := model.ValidateRoster([]*model.Candidate{candidate}, examiners); err != nil {
		return nil, err
	}
	if err := model.ValidateStruct("context", sctx); err != nil {
		return nil, err
	}
	if err := model.ValidateAssignments(sctx.Assignments); err != nil {
		return nil, err
	}

	start := time.Now()
	runID := uuid.NewString()
	p.logger.StageStart(runID, 1, len(examiners))

	sel, err := p.selectWindow(ctx, candidate, examiners, sctx, 0)
	if err != nil {
		metrics.RecordStage("select", false, time.Since(start))
		return nil, err
	}

	score := 0.0
	if sel.SelectedWindow != nil {
		score = sel.SelectedWindow.Score
	}
	metrics.RecordStage("select", sel.Success, time.Since(start))
	p.logger.StageComplete(runID, time.Since(start), score)
	return sel, nil
}

func (p *Pipeline) selectWindow(ctx context.Context, candidate *model.Candidate, examiners []*model.Examiner, sctx SelectionContext, depth int) (*window.Selection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dates := p.availableDates(sctx)
	windows := p.generator.Generate(dates)

	base := constraint.NewContext(candidate, examiners, sctx.Assignments, p.rotation)
	passed, rejected := p.validator.Filter(base, windows)

	if len(passed) == 0 {
		if sctx.DateRange != nil && len(sctx.AvailableDates) == 0 && depth < p.config.MaxRecursionDepth {
			wider := sctx.DateRange.Widen(p.config.WidenDays)
			p.logger.Logger().Info().
				Str("candidate", candidate.ID).
				Int("depth", depth+1).
				Str("start", wider.StartDate).
				Str("end", wider.EndDate).
				Msg("没有窗口通过校验，扩大日期范围")
			next := sctx
			next.DateRange = &wider
			return p.selectWindow(ctx, candidate, examiners, next, depth+1)
		}

		sel := p.selector.Select(nil)
		sel.Rejected = rejected
		sel.Depth = depth
		sel.DateRange = sctx.DateRange
		sel.Reasoning = noWindowReason(len(windows), depth)
		return &sel, nil
	}

	weights := p.weights.NormalizedWeights(ctx)
	in := &window.Input{
		Candidate:      candidate,
		Examiners:      examiners,
		Assignments:    sctx.Assignments,
		AvailableDates: dates,
	}
	scored, hits, err := p.scorer.ScoreAll(ctx, in, passed, weights)
	if err != nil {
		return nil, err
	}

	sel := p.selector.Select(scored)
	sel.CacheHits = hits
	sel.Rejected = rejected
	sel.Depth = depth
	sel.DateRange = sctx.DateRange
	return &sel, nil
}

func (p *Pipeline) availableDates(sctx SelectionContext) []string {
	var dates []string
	switch {
	case len(sctx.AvailableDates) > 0:
		dates = window.NormalizeDates(sctx.AvailableDates)
	case sctx.DateRange != nil:
		dates = sctx.DateRange.Dates()
	}
	if !sctx.ExcludeHolidays {
		return dates
	}
	out := dates[:0:0]
	for _, d := range dates {
		if !p.calendar.IsHoliday(d) {
			out = append(out, d)
		}
	}
	return out
}

func noWindowReason(generated, depth int) string {
	if generated == 0 {
		return fmt.Sprintf("可用日期中没有相邻的两天（已扩大 %d 次）", depth)
	}
	return fmt.Sprintf("%d 个候选窗口均未通过硬约束校验（已扩大 %d 次）", generated, depth)
}

// CandidateWindow 分配前为考生选定的窗口
type CandidateWindow struct {
	CandidateID   string                     `json:"candidate_id"`
	Window        *model.DateWindowCandidate `json:"window,omitempty"`
	LowConfidence bool                       `json:"low_confidence,omitempty"`
	Reason        string                     `json:"reason,omitempty"`
}

// AllocationResult 分配结果及分配前的窗口选择
type AllocationResult struct {
	*allocator.Result
	Windows []CandidateWindow `json:"windows"`
}

// RunAllocationOptimizer 为考生分配考官
//
// 没有指定考试日期的考生先在 dates 内依次选择窗口，已选窗口计入后续考生的日期使用量。
func (p *Pipeline) RunAllocationOptimizer(ctx context.Context, candidates []*model.Candidate, examiners []*model.Examiner, dates []string) (*AllocationResult, error) {
	if err := model.ValidateRoster(candidates, examiners); err != nil {
		return nil, err
	}

	prepared := make([]*model.Candidate, 0, len(candidates))
	var placeholders []*model.Assignment
	var chosen []CandidateWindow

	for _, c := range candidates {
		if len(c.ExamDates) > 0 || len(dates) == 0 {
			prepared = append(prepared, c)
			continue
		}

		sel, err := p.selectWindow(ctx, c, examiners, SelectionContext{
			AvailableDates: dates,
			Assignments:    placeholders,
		}, 0)
		if err != nil {
			return nil, err
		}

		cw := CandidateWindow{CandidateID: c.ID, Reason: sel.Reasoning}
		cp := *c
		if sel.Success {
			cw.Window = sel.SelectedWindow
			cw.LowConfidence = sel.LowConfidence
			cp.ExamDates = sel.SelectedWindow.Dates()
			placeholders = append(placeholders, placeholder(c, cp.ExamDates))
		}
		chosen = append(chosen, cw)
		prepared = append(prepared, &cp)
	}

	res, err := allocator.New(p.config.Allocator, p.manager, p.rotation).Allocate(ctx, allocator.Request{
		Candidates: prepared,
		Examiners:  examiners,
	})
	if err != nil {
		return nil, err
	}
	if chosen == nil {
		chosen = []CandidateWindow{}
	}
	return &AllocationResult{Result: res, Windows: chosen}, nil
}

// placeholder 只占用日期、尚无考官的安排
func placeholder(c *model.Candidate, dates []string) *model.Assignment {
	a := &model.Assignment{CandidateID: c.ID, CandidateName: c.Name, Department: c.Department}
	for _, d := range dates {
		a.Days = append(a.Days, model.ExamDay{Date: d})
	}
	return a
}

// BuildSolverRequest 组装求解请求，约束权重取自权重来源
func (p *Pipeline) BuildSolverRequest(ctx context.Context, candidates []*model.Candidate, examiners []*model.Examiner, rng model.DateRange, preferred []model.DateWindowCandidate) (*solver.Request, error) {
	cw := p.weights.Weights(ctx)
	req := &solver.Request{
		Candidates:        candidates,
		Examiners:         examiners,
		DateRangeStart:    rng.StartDate,
		DateRangeEnd:      rng.EndDate,
		ConstraintWeights: cw,
		WeightTable:       weights.ToTable(cw.Raw),
		SolverConfig:      p.config.Solver,
		PreferredWindows:  preferred,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// Solve 把请求提交给外部求解服务
func (p *Pipeline) Solve(ctx context.Context, req *solver.Request) (*solver.Response, error) {
	if p.solver == nil {
		return nil, apperrors.New(apperrors.CodeSolverUnavailable, "未配置求解服务")
	}
	return p.solver.Solve(ctx, req)
}
