package handler

import (
	"net/http"

	apperrors "github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/pipeline"
	"github.com/paiban/examplan/pkg/scheduler/balance"
)

// SelectRequest 窗口选择请求
type SelectRequest struct {
	Candidate      *model.Candidate    `json:"candidate"`
	Examiners      []*model.Examiner   `json:"examiners"`
	DateRange      *model.DateRange    `json:"date_range,omitempty"`
	AvailableDates []string            `json:"available_dates,omitempty"`
	Assignments    []*model.Assignment `json:"assignments,omitempty"`
	// ExcludeHolidays 为空时使用考点配置
	ExcludeHolidays *bool `json:"exclude_holidays,omitempty"`
}

// RosterRequest 预检与分配请求
type RosterRequest struct {
	Candidates []*model.Candidate `json:"candidates"`
	Examiners  []*model.Examiner  `json:"examiners"`
	Dates      []string           `json:"dates,omitempty"`
	DateRange  *model.DateRange   `json:"date_range,omitempty"`
	// Balance 分配后是否均衡工作量
	Balance bool `json:"balance,omitempty"`
}

// dates 显式日期优先，否则展开日期范围
func (req *RosterRequest) dates() ([]string, error) {
	if len(req.Dates) > 0 || req.DateRange == nil {
		return req.Dates, nil
	}
	if err := model.ValidateStruct("date_range", req.DateRange); err != nil {
		return nil, err
	}
	dates := req.DateRange.Dates()
	if len(dates) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidTimeRange, "结束日期早于开始日期")
	}
	return dates, nil
}

// AllocateResponse 分配响应
type AllocateResponse struct {
	*pipeline.AllocationResult
	Balance *balance.Result `json:"balance,omitempty"`
}

// BalanceRequest 工作量均衡请求
type BalanceRequest struct {
	Assignments []*model.Assignment `json:"assignments"`
	Examiners   []*model.Examiner   `json:"examiners"`
}

// SelectWindow 为单个考生选择考试窗口
func (h *Handler) SelectWindow(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.DateRange == nil && len(req.AvailableDates) == 0 {
		respondError(w, apperrors.InvalidInput("date_range", "需要提供日期范围或可用日期"))
		return
	}

	t, p := h.scope(r)
	exclude := t.Settings.ExcludeHolidays
	if req.ExcludeHolidays != nil {
		exclude = *req.ExcludeHolidays
	}

	sel, err := p.SelectOptimalWindow(r.Context(), req.Candidate, req.Examiners, pipeline.SelectionContext{
		DateRange:       req.DateRange,
		AvailableDates:  req.AvailableDates,
		Assignments:     req.Assignments,
		ExcludeHolidays: exclude,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondOK(w, sel)
}

// PreCheck 资源可行性预检
func (h *Handler) PreCheck(w http.ResponseWriter, r *http.Request) {
	var req RosterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	t, p := h.scope(r)
	if err := checkCandidates(t, req.Candidates); err != nil {
		respondError(w, err)
		return
	}
	dates, err := req.dates()
	if err != nil {
		handleError(w, r, err)
		return
	}
	if len(dates) == 0 {
		respondError(w, apperrors.InvalidInput("dates", "需要提供日期或日期范围"))
		return
	}

	report, err := p.PreCheck(req.Candidates, req.Examiners, dates)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondOK(w, report)
}

// Allocate 选择窗口并分配考官
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req RosterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	t, p := h.scope(r)
	if err := checkCandidates(t, req.Candidates); err != nil {
		respondError(w, err)
		return
	}
	dates, err := req.dates()
	if err != nil {
		handleError(w, r, err)
		return
	}

	res, err := p.RunAllocationOptimizer(r.Context(), req.Candidates, req.Examiners, dates)
	if err != nil {
		handleError(w, r, err)
		return
	}

	resp := AllocateResponse{AllocationResult: res}
	if req.Balance && len(res.Allocations) > 0 {
		resp.Balance, err = p.Balance(r.Context(), res.Allocations, req.Examiners)
		if err != nil {
			handleError(w, r, err)
			return
		}
	}
	respondOK(w, resp)
}

// Balance 均衡考官工作量
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	var req BalanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	_, p := h.scope(r)
	res, err := p.Balance(r.Context(), req.Assignments, req.Examiners)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondOK(w, res)
}
