package handler

import (
	"net/http"

	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/monitor"
	"github.com/paiban/examplan/pkg/scheduler/resolver"
	"github.com/paiban/examplan/pkg/validator"
)

// StateRequest 基于当前安排的请求：冲突检测、监控、风险预测
type StateRequest struct {
	Assignments []*model.Assignment `json:"assignments"`
	Examiners   []*model.Examiner   `json:"examiners"`
	Candidates  []*model.Candidate  `json:"candidates,omitempty"`

	// 风险预测
	From        string `json:"from,omitempty"`
	HorizonDays int    `json:"horizon_days,omitempty"`
}

// DetectResponse 冲突检测响应
type DetectResponse struct {
	Conflicts []model.ConflictRecord     `json:"conflicts"`
	Summary   map[model.ConflictKind]int `json:"summary"`
	Blocking  bool                       `json:"blocking"`
}

// ResolveRequest 冲突解决请求
type ResolveRequest struct {
	Conflict    model.ConflictRecord `json:"conflict"`
	Candidates  []*model.Candidate   `json:"candidates"`
	Examiners   []*model.Examiner    `json:"examiners"`
	Assignments []*model.Assignment  `json:"assignments"`
}

// DetectConflicts 检测安排中的冲突
func (h *Handler) DetectConflicts(w http.ResponseWriter, r *http.Request) {
	var req StateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	_, p := h.scope(r)
	conflicts, err := p.DetectConflicts(req.Assignments, req.Examiners)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if conflicts == nil {
		conflicts = []model.ConflictRecord{}
	}
	respondOK(w, DetectResponse{
		Conflicts: conflicts,
		Summary:   validator.Summary(conflicts),
		Blocking:  validator.HasBlocking(conflicts),
	})
}

// ResolveConflict 逐级解决单个冲突
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	_, p := h.scope(r)
	res, err := p.ResolveConflict(r.Context(), req.Conflict, resolver.State{
		Candidates:  req.Candidates,
		Examiners:   req.Examiners,
		Assignments: req.Assignments,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondOK(w, res)
}

// ResolutionStatistics 各级策略的尝试与成功次数
func (h *Handler) ResolutionStatistics(w http.ResponseWriter, r *http.Request) {
	_, p := h.scope(r)
	respondOK(w, p.ResolutionStatistics())
}

// Monitor 计算系统状态并更新告警
func (h *Handler) Monitor(w http.ResponseWriter, r *http.Request) {
	var req StateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	_, p := h.scope(r)
	res, err := p.Monitor(r.Context(), req.Assignments, req.Examiners, req.Candidates)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondOK(w, res)
}

// Predict 预测未来若干天的风险
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req StateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	horizon := req.HorizonDays
	if horizon <= 0 {
		horizon = h.horizonDays
	}

	_, p := h.scope(r)
	risks, err := p.Predict(monitor.Snapshot{
		Assignments: req.Assignments,
		Examiners:   req.Examiners,
		Candidates:  req.Candidates,
	}, req.From, horizon)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondOK(w, risks)
}

// Alerts 未解除的告警
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	_, p := h.scope(r)
	respondOK(w, p.Alerts())
}
