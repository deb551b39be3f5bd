// Package handler 提供流水线的 HTTP 接口
package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync"

	"github.com/paiban/examplan/internal/tenant"
	apperrors "github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/logger"
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/pipeline"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 8 << 20

// Handler 处理器
//
// 每个考点一条流水线，评分缓存、冲突解决统计与告警状态按考点隔离；
// 权重来源、日历、告警下游与求解客户端由各流水线共享。
type Handler struct {
	config      pipeline.Config
	options     []pipeline.Option
	horizonDays int
	fallback    *tenant.Tenant

	mu        sync.Mutex
	pipelines map[string]*pipeline.Pipeline
}

// New 创建处理器
func New(cfg pipeline.Config, horizonDays int, opts ...pipeline.Option) *Handler {
	return &Handler{
		config:      cfg,
		options:     opts,
		horizonDays: horizonDays,
		fallback:    tenant.CreateDefaultTenant(),
		pipelines:   make(map[string]*pipeline.Pipeline),
	}
}

// Pipeline 返回考点对应的流水线，首次访问时创建
func (h *Handler) Pipeline(t *tenant.Tenant) *pipeline.Pipeline {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p, ok := h.pipelines[t.Code]; ok {
		return p
	}
	p := pipeline.New(t.Apply(h.config), h.options...)
	h.pipelines[t.Code] = p
	return p
}

// Pipelines 已创建的流水线，按考点编码索引
func (h *Handler) Pipelines() map[string]*pipeline.Pipeline {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]*pipeline.Pipeline, len(h.pipelines))
	for code, p := range h.pipelines {
		out[code] = p
	}
	return out
}

func (h *Handler) tenantOf(r *http.Request) *tenant.Tenant {
	if t, ok := tenant.FromContext(r.Context()); ok {
		return t
	}
	return h.fallback
}

// scope 当前请求的考点与流水线
func (h *Handler) scope(r *http.Request) (*tenant.Tenant, *pipeline.Pipeline) {
	t := h.tenantOf(r)
	return t, h.Pipeline(t)
}

// checkCandidates 校验考生数是否超过考点上限
func checkCandidates(t *tenant.Tenant, candidates []*model.Candidate) *apperrors.AppError {
	if t.AllowsCandidates(len(candidates)) {
		return nil
	}
	return apperrors.InvalidInput("candidates", "考生数超过考点上限").
		WithField("limit", t.Settings.MaxCandidates).
		WithField("count", len(candidates))
}

// Response 统一响应
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// decodeJSON 解析请求体
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) *apperrors.AppError {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidInput, "解析请求失败").WithDetails(err.Error())
	}
	return nil
}

// respondJSON 返回JSON响应
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondOK 返回成功响应
func respondOK(w http.ResponseWriter, data interface{}) {
	respondJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

// respondError 返回错误响应
func respondError(w http.ResponseWriter, err *apperrors.AppError) {
	respondJSON(w, err.HTTPStatus, map[string]interface{}{
		"error":   true,
		"code":    err.Code,
		"message": err.Message,
		"details": err.Details,
		"fields":  err.Fields,
	})
}

// handleError 将任意错误转换为响应，5xx 记录错误日志
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	switch {
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(err, context.Canceled):
		appErr = apperrors.Wrap(err, apperrors.CodeTimeout, "请求处理超时")
	default:
		appErr = apperrors.AsAppError(err)
	}

	event := logger.WithContext(r.Context()).Debug()
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		event = logger.WithContext(r.Context()).Error()
	}
	event.Err(err).Str("code", string(appErr.Code)).Str("path", r.URL.Path).Msg("请求失败")

	respondError(w, appErr)
}
