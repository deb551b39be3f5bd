package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/paiban/examplan/internal/metrics"
	"github.com/paiban/examplan/internal/middleware"
	"github.com/paiban/examplan/internal/security"
)

// RouterConfig 路由配置
type RouterConfig struct {
	Auth        *middleware.AuthConfig
	MetricsPath string // 为空时不暴露指标
	Timeout     time.Duration
}

// NewRouter 注册全部路由
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.SecurityHeaders)

	r.Get("/health", h.Health)
	if cfg.MetricsPath != "" {
		r.Method(http.MethodGet, cfg.MetricsPath, metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Timeout))
		if cfg.Auth != nil {
			r.Use(middleware.Auth(cfg.Auth))
		}

		// 只读的参考数据，认证通过即可访问
		r.Get("/rotation", h.Rotation)
		r.Get("/weights", h.Weights)
		r.Get("/constraints", h.Constraints)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(security.ScopeSelect))
			r.Post("/windows/select", h.SelectWindow)
			r.Post("/precheck", h.PreCheck)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(security.ScopeAllocate))
			r.Post("/allocate", h.Allocate)
			r.Post("/balance", h.Balance)
			r.Post("/stats/workload", h.Workload)
		})

		r.Route("/conflicts", func(r chi.Router) {
			r.Use(middleware.RequireScope(security.ScopeResolve))
			r.Post("/detect", h.DetectConflicts)
			r.Post("/resolve", h.ResolveConflict)
			r.Get("/statistics", h.ResolutionStatistics)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(security.ScopeMonitor))
			r.Post("/monitor", h.Monitor)
			r.Post("/monitor/predict", h.Predict)
			r.Get("/alerts", h.Alerts)
		})

		r.With(middleware.RequireScope(security.ScopeSolver)).Post("/solver", h.Solve)
	})

	return r
}
