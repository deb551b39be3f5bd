package handler

import (
	"net/http"
	"time"

	"github.com/paiban/examplan/internal/constraints"
	apperrors "github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/rotation"
	"github.com/paiban/examplan/pkg/solver"
)

// maxRotationDays 轮班查询的最大天数
const maxRotationDays = 366

// SolverRequest 求解请求
type SolverRequest struct {
	Candidates       []*model.Candidate          `json:"candidates"`
	Examiners        []*model.Examiner           `json:"examiners"`
	DateRange        model.DateRange             `json:"date_range"`
	PreferredWindows []model.DateWindowCandidate `json:"preferred_windows,omitempty"`
	// Submit 为 false 时只返回组装好的请求
	Submit bool `json:"submit,omitempty"`
}

// SolverResponse 求解响应
type SolverResponse struct {
	Request  *solver.Request  `json:"request"`
	Result   *solver.Response `json:"result,omitempty"`
	Feasible bool             `json:"feasible"`
}

// Workload 考官工作量与每日覆盖统计
func (h *Handler) Workload(w http.ResponseWriter, r *http.Request) {
	var req BalanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	_, p := h.scope(r)
	summary, err := p.Workload(req.Assignments, req.Examiners)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondOK(w, summary)
}

// Rotation 查询日期范围内的轮班，end 缺省时只查询 start 当天
func (h *Handler) Rotation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := rotation.NormalizeDate(q.Get("start"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	end := start
	if raw := q.Get("end"); raw != "" {
		if end, err = rotation.NormalizeDate(raw); err != nil {
			handleError(w, r, err)
			return
		}
	}

	dates := model.DateRange{StartDate: start, EndDate: end}.Dates()
	switch {
	case len(dates) == 0:
		respondError(w, apperrors.New(apperrors.CodeInvalidTimeRange, "结束日期早于开始日期"))
		return
	case len(dates) > maxRotationDays:
		respondError(w, apperrors.New(apperrors.CodeInvalidTimeRange, "查询范围过大").WithField("max_days", maxRotationDays))
		return
	}

	_, p := h.scope(r)
	patterns := make([]model.DutyPattern, 0, len(dates))
	for _, d := range dates {
		pattern, err := p.Rotation().Pattern(d)
		if err != nil {
			handleError(w, r, err)
			return
		}
		patterns = append(patterns, pattern)
	}
	respondOK(w, patterns)
}

// Weights 当前约束权重
func (h *Handler) Weights(w http.ResponseWriter, r *http.Request) {
	_, p := h.scope(r)
	respondOK(w, p.Weights(r.Context()))
}

// Constraints 约束目录
func (h *Handler) Constraints(w http.ResponseWriter, r *http.Request) {
	_, p := h.scope(r)
	current := p.Weights(r.Context())
	respondOK(w, constraints.LibraryResponse{
		Source:  current.Source,
		Library: constraints.GetLibrary(current.Raw, p.Rules()),
	})
}

// Solve 组装求解请求，submit=true 时提交给求解服务
func (h *Handler) Solve(w http.ResponseWriter, r *http.Request) {
	var req SolverRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	t, p := h.scope(r)
	if err := checkCandidates(t, req.Candidates); err != nil {
		respondError(w, err)
		return
	}

	built, err := p.BuildSolverRequest(r.Context(), req.Candidates, req.Examiners, req.DateRange, req.PreferredWindows)
	if err != nil {
		handleError(w, r, err)
		return
	}

	resp := SolverResponse{Request: built}
	if req.Submit {
		resp.Result, err = p.Solve(r.Context(), built)
		if err != nil {
			handleError(w, r, err)
			return
		}
		resp.Feasible = resp.Result.Feasible()
	}
	respondOK(w, resp)
}

// Health 健康检查
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"tenants":   len(h.Pipelines()),
	})
}
