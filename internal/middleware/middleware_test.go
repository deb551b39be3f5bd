package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/examplan/internal/security"
	"github.com/paiban/examplan/internal/tenant"
	"github.com/paiban/examplan/pkg/logger"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(logger.RequestIDKey).(string)
	}))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = serve(h, req)
	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL")
}

func TestLoggingRecordsStatus(t *testing.T) {
	h := Logging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Tenant-ID", "hospital-a")
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/brew", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestTimeout(t *testing.T) {
	var deadline bool
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, deadline = r.Context().Deadline()
	}))
	serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, deadline)

	h = Timeout(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, deadline = r.Context().Deadline()
	}))
	serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, deadline, "零值不设截止时间")
}

func newAuthConfig(t *testing.T) *AuthConfig {
	t.Helper()
	tenants := tenant.NewTenantManager()
	require.NoError(t, tenants.Register(tenant.CreateDefaultTenant()))

	site := tenant.CreateDefaultTenant()
	site.Code = "hospital-a"
	site.Settings.Features = []string{security.ScopeSelect}
	site.Settings.APIRateLimit = 2
	require.NoError(t, tenants.Register(site))

	closed := tenant.CreateDefaultTenant()
	closed.Code = "closed"
	closed.Status = "suspended"
	require.NoError(t, tenants.Register(closed))

	keys := security.NewAPIKeyManager()
	keys.Register("k-admin", tenant.DefaultCode, "admin", nil)
	keys.Register("k-site", "hospital-a", "site", []string{security.ScopeSelect})
	keys.Register("k-site-monitor", "hospital-a", "site", []string{security.ScopeMonitor})
	keys.Register("k-closed", "closed", "closed", nil)

	limiter := security.NewRateLimiter(10, time.Minute)
	t.Cleanup(limiter.Stop)

	return &AuthConfig{
		APIKeyManager: keys,
		TenantManager: tenants,
		RateLimiter:   limiter,
		SkipPaths:     []string{"/health"},
	}
}

func authed(cfg *AuthConfig, key string, path string) *httptest.ResponseRecorder {
	var got *tenant.Tenant
	h := Auth(cfg)(RequireScope(security.ScopeSelect)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = tenant.FromContext(r.Context())
		if got != nil {
			w.Header().Set("X-Seen-Tenant", got.Code)
		}
		okHandler(w, r)
	})))

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return serve(h, req)
}

func TestAuth(t *testing.T) {
	cfg := newAuthConfig(t)

	tests := []struct {
		name   string
		key    string
		path   string
		status int
		tenant string
	}{
		{"跳过路径", "", "/health", http.StatusOK, ""},
		{"缺少密钥", "", "/api", http.StatusUnauthorized, ""},
		{"无效密钥", "k-unknown", "/api", http.StatusUnauthorized, ""},
		{"默认考点", "k-admin", "/api", http.StatusOK, tenant.DefaultCode},
		{"考点密钥", "k-site", "/api", http.StatusOK, "hospital-a"},
		{"密钥权限不足", "k-site-monitor", "/api", http.StatusForbidden, ""},
		{"考点停用", "k-closed", "/api", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := authed(cfg, tt.key, tt.path)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.tenant, rec.Header().Get("X-Seen-Tenant"))
		})
	}
}

func TestAuthRateLimit(t *testing.T) {
	cfg := newAuthConfig(t)

	// hospital-a 每个窗口允许两次
	assert.Equal(t, http.StatusOK, authed(cfg, "k-site", "/api").Code)
	assert.Equal(t, http.StatusOK, authed(cfg, "k-site", "/api").Code)
	assert.Equal(t, http.StatusTooManyRequests, authed(cfg, "k-site", "/api").Code)
	assert.Equal(t, http.StatusOK, authed(cfg, "k-admin", "/api").Code)
}

func TestAuthWithoutKeys(t *testing.T) {
	tenants := tenant.NewTenantManager()
	require.NoError(t, tenants.Register(tenant.CreateDefaultTenant()))
	cfg := &AuthConfig{
		APIKeyManager: security.NewAPIKeyManager(),
		TenantManager: tenants,
	}

	rec := authed(cfg, "", "/api")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tenant.DefaultCode, rec.Header().Get("X-Seen-Tenant"))
}

func TestRequireScopeWithoutAuth(t *testing.T) {
	h := RequireScope(security.ScopeSolver)(http.HandlerFunc(okHandler))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	site := tenant.CreateDefaultTenant()
	site.Settings.Features = []string{security.ScopeSelect}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(tenant.WithTenant(context.Background(), site))
	rec = serve(h, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
