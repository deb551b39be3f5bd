// Package middleware 提供HTTP中间件
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/paiban/examplan/internal/security"
	"github.com/paiban/examplan/internal/tenant"
	apperrors "github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/logger"
)

// AuthConfig 认证配置
type AuthConfig struct {
	APIKeyManager *security.APIKeyManager
	TenantManager *tenant.TenantManager
	RateLimiter   *security.RateLimiter
	SkipPaths     []string // 跳过认证的路径
}

type apiKeyContextKey struct{}

// Auth 认证中间件
//
// 未登记任何密钥时不做认证，请求归属默认考点，但仍按默认考点限流。
func Auth(cfg *AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, path := range cfg.SkipPaths {
				if strings.HasPrefix(r.URL.Path, path) {
					next.ServeHTTP(w, r)
					return
				}
			}

			var key *security.APIKey
			tenantCode := tenant.DefaultCode
			if cfg.APIKeyManager.Count() > 0 {
				raw := security.ExtractAPIKey(r)
				if raw == "" {
					writeError(w, apperrors.New(apperrors.CodeUnauthorized, "API密钥未提供"))
					return
				}
				var err error
				key, err = cfg.APIKeyManager.Validate(raw)
				if err != nil {
					logger.WithContext(r.Context()).Warn().
						Str("key", security.Mask(raw)).
						Err(err).
						Msg("API密钥验证失败")
					writeError(w, apperrors.New(apperrors.CodeUnauthorized, "无效的API密钥"))
					return
				}
				tenantCode = key.TenantID
			}

			t, err := cfg.TenantManager.Get(tenantCode)
			if err != nil {
				writeError(w, apperrors.New(apperrors.CodeForbidden, "考点不可用").WithDetails(err.Error()))
				return
			}

			if cfg.RateLimiter != nil && !cfg.RateLimiter.AllowN(t.Code, t.Settings.APIRateLimit) {
				writeError(w, apperrors.New(apperrors.CodeRateLimited, security.ErrRateLimitExceeded.Error()))
				return
			}

			ctx := tenant.WithTenant(r.Context(), t)
			if key != nil {
				ctx = contextWithKey(ctx, key)
			}
			w.Header().Set("X-Tenant-ID", t.Code)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope 权限范围检查，密钥与考点都需具备该权限
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key, ok := keyFromContext(r.Context()); ok && !key.HasScope(scope) {
				writeError(w, apperrors.New(apperrors.CodeForbidden, "权限不足").WithField("scope", scope))
				return
			}
			if t, ok := tenant.FromContext(r.Context()); ok && !t.HasFeature(scope) {
				writeError(w, apperrors.New(apperrors.CodeForbidden, "考点未开通该功能").WithField("scope", scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeError 返回错误响应
func writeError(w http.ResponseWriter, err *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   true,
		"code":    err.Code,
		"message": err.Message,
		"details": err.Details,
	})
}
