package resolver

import (
	"context"
	"fmt"

	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/scheduler/allocator"
	"github.com/paiban/examplan/pkg/scheduler/balance"
	"github.com/paiban/examplan/pkg/scheduler/constraint"
)

// parameterTuning L1：备份考官顶替问题角色，必要时以收紧的阈值重新均衡
func (r *Resolver) parameterTuning(ctx context.Context, target model.ConflictRecord, state State) (*outcome, error) {
	work := model.CloneAssignments(state.Assignments)
	affected := toSet(target.AffectedEntities)

	promoted := 0
	for _, a := range work {
		if !r.touches(a, target, affected) {
			continue
		}
		promoted += r.promoteBackups(a, work, state.Examiners, target.Date)
	}

	if promoted == 0 || target.Kind == model.ConflictWorkloadImbalance {
		b := balance.New(balance.TightConfig(), r.manager, r.rotation)
		res, err := b.Balance(ctx, work, state.Examiners)
		if err != nil {
			return nil, err
		}
		work = res.Assignments
		return &outcome{
			assignments: work,
			message:     fmt.Sprintf("备份顶替 %d 次，收紧阈值后转移 %d 项任务", promoted, len(res.Transfers)),
		}, nil
	}

	return &outcome{assignments: work, message: fmt.Sprintf("备份考官顶替 %d 次", promoted)}, nil
}

// promoteBackups 主/副考官不满足硬约束且备份可胜任时，由备份顶替
func (r *Resolver) promoteBackups(a *model.Assignment, work []*model.Assignment, examiners []*model.Examiner, date string) int {
	promoted := 0
	for i := range a.Days {
		day := &a.Days[i]
		if date != "" && day.Date != date {
			continue
		}
		for _, role := range []model.Role{model.RolePrimary, model.RoleSecondary} {
			if day.Backup == "" {
				break
			}
			ctx := r.placementContext(a, work, examiners)
			if id := day.Examiner(role); id != "" && id != day.Backup && r.canPlace(ctx, a, day.Date, role, id) {
				continue
			}
			if !r.canPlace(ctx, a, day.Date, role, day.Backup) {
				continue
			}
			day.SetExaminer(role, day.Backup)
			day.Backup = ""
			promoted++
		}
	}
	return promoted
}

// localReschedule L2：只重新分配受影响的考生
func (r *Resolver) localReschedule(ctx context.Context, target model.ConflictRecord, state State) (*outcome, error) {
	return r.reschedule(ctx, target, state, false)
}

// constraintRelaxation L4：受影响考生允许同科室副考官，遗留问题如实报告
func (r *Resolver) constraintRelaxation(ctx context.Context, target model.ConflictRecord, state State) (*outcome, error) {
	out, err := r.reschedule(ctx, target, state, true)
	if out != nil {
		out.relaxed = true
	}
	return out, err
}

func (r *Resolver) reschedule(ctx context.Context, target model.ConflictRecord, state State, relaxed bool) (*outcome, error) {
	affected := toSet(target.AffectedEntities)

	var keep, removed []*model.Assignment
	for _, a := range state.Assignments {
		if r.touches(a, target, affected) {
			removed = append(removed, a)
		} else {
			keep = append(keep, a.Clone())
		}
	}

	candidates := r.affectedCandidates(state, removed, affected)
	if len(candidates) == 0 {
		return nil, nil
	}

	cfg := r.allocCfg
	cfg.AllowRelaxed = relaxed
	res, err := allocator.New(cfg, r.manager, r.rotation).Allocate(ctx, allocator.Request{
		Candidates: candidates,
		Examiners:  state.Examiners,
		Existing:   keep,
	})
	if err != nil {
		return nil, err
	}

	work := append(keep, res.Allocations...)
	work = append(work, originals(removed, res.Unallocated)...)

	msg := fmt.Sprintf("重新分配 %d 名考生，成功 %d 名", len(candidates), len(res.Allocations))
	if relaxed {
		msg = fmt.Sprintf("%s（放宽 %d 名）", msg, res.Stats.RelaxedCount)
	}
	return &outcome{assignments: work, message: msg}, nil
}

// globalReoptimization L3：全部考生重新分配后再均衡
func (r *Resolver) globalReoptimization(ctx context.Context, _ model.ConflictRecord, state State) (*outcome, error) {
	candidates := r.affectedCandidates(state, state.Assignments, toSet(candidateIDs(state.Candidates)))
	if len(candidates) == 0 {
		return nil, nil
	}
	ids := toSet(candidateIDs(candidates))

	// 名单外考生的安排保持不变
	var keep, removed []*model.Assignment
	for _, a := range state.Assignments {
		if ids[a.CandidateID] {
			removed = append(removed, a)
		} else {
			keep = append(keep, a.Clone())
		}
	}

	cfg := r.allocCfg
	cfg.AllowRelaxed = false
	res, err := allocator.New(cfg, r.manager, r.rotation).Allocate(ctx, allocator.Request{
		Candidates: candidates,
		Examiners:  state.Examiners,
		Existing:   keep,
	})
	if err != nil {
		return nil, err
	}

	work := append(keep, res.Allocations...)
	work = append(work, originals(removed, res.Unallocated)...)

	balanced, err := balance.New(balance.DefaultConfig(), r.manager, r.rotation).Balance(ctx, work, state.Examiners)
	if err != nil {
		return nil, err
	}
	return &outcome{
		assignments: balanced.Assignments,
		message: fmt.Sprintf("全局重新分配 %d 名考生，成功 %d 名，均衡转移 %d 项",
			len(candidates), len(res.Allocations), len(balanced.Transfers)),
	}, nil
}

// touches 安排是否与目标冲突相关
func (r *Resolver) touches(a *model.Assignment, target model.ConflictRecord, affected map[string]bool) bool {
	if affected[a.CandidateID] {
		return true
	}
	for _, d := range a.Days {
		if target.Date != "" && d.Date != target.Date {
			continue
		}
		for _, id := range []string{d.Primary, d.Secondary, d.Backup} {
			if id != "" && affected[id] {
				return true
			}
		}
	}
	return false
}

// affectedCandidates 受影响考生，考试日期缺失时取原安排的日期
func (r *Resolver) affectedCandidates(state State, removed []*model.Assignment, affected map[string]bool) []*model.Candidate {
	byID := make(map[string]*model.Candidate, len(state.Candidates))
	for _, c := range state.Candidates {
		byID[c.ID] = c
	}

	seen := make(map[string]bool)
	var out []*model.Candidate
	add := func(c *model.Candidate, dates []string) {
		if c == nil || seen[c.ID] {
			return
		}
		seen[c.ID] = true
		cp := *c
		if len(dates) > 0 {
			cp.ExamDates = dates
		}
		out = append(out, &cp)
	}

	for _, a := range removed {
		add(byID[a.CandidateID], a.Dates())
	}
	for _, c := range state.Candidates {
		if affected[c.ID] {
			add(c, nil)
		}
	}
	return out
}

func (r *Resolver) placementContext(a *model.Assignment, work []*model.Assignment, examiners []*model.Examiner) *constraint.Context {
	ctx := constraint.NewContext(&model.Candidate{ID: a.CandidateID, Department: a.Department}, examiners, work, r.rotation)
	ctx.Relaxed = a.Relaxed
	return ctx
}

func (r *Resolver) canPlace(ctx *constraint.Context, a *model.Assignment, date string, role model.Role, examinerID string) bool {
	ok, _ := r.manager.CanAssign(ctx, constraint.Placement{
		CandidateID: a.CandidateID,
		Department:  a.Department,
		Date:        date,
		Role:        role,
		ExaminerID:  examinerID,
	})
	return ok
}

// originals 未能重新分配的考生保留原安排
func originals(removed []*model.Assignment, unallocated []allocator.Unallocated) []*model.Assignment {
	ids := make(map[string]bool, len(unallocated))
	for _, u := range unallocated {
		ids[u.CandidateID] = true
	}
	var out []*model.Assignment
	for _, a := range removed {
		if ids[a.CandidateID] {
			out = append(out, a.Clone())
		}
	}
	return out
}

func candidateIDs(candidates []*model.Candidate) []string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	return ids
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
