package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/examplan/internal/config"
	"github.com/paiban/examplan/internal/constraints"
	"github.com/paiban/examplan/internal/middleware"
	"github.com/paiban/examplan/internal/security"
	"github.com/paiban/examplan/internal/tenant"
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/monitor"
	"github.com/paiban/examplan/pkg/pipeline"
	"github.com/paiban/examplan/pkg/scheduler/window"
)

const (
	adminKey  = "k-admin-0001"
	siteAKey  = "k-site-a-0001"
	limitKey  = "k-limited-0001"
	siteACode = "hospital-a"
)

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type testServer struct {
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		API: config.APIConfig{Keys: []string{adminKey}},
		Tenants: []config.TenantConfig{
			{
				Code:            siteACode,
				Keys:            []string{siteAKey},
				Scopes:          []string{security.ScopeSelect, security.ScopeMonitor},
				MaxCandidates:   1,
				ConfidenceFloor: 0.8,
			},
			{
				Code:      "limited",
				Keys:      []string{limitKey},
				RateLimit: 1,
			},
		},
	}
	tenants := tenant.NewTenantManager()
	keys := security.NewAPIKeyManager()
	require.NoError(t, tenant.Setup(cfg, tenants, keys))

	limiter := security.NewRateLimiter(100, time.Minute)
	t.Cleanup(limiter.Stop)

	h := New(pipeline.DefaultConfig(), 7, pipeline.WithAlertSink(monitor.MultiSink{}))
	router := NewRouter(h, RouterConfig{
		Auth: &middleware.AuthConfig{
			APIKeyManager: keys,
			TenantManager: tenants,
			RateLimiter:   limiter,
		},
		MetricsPath: "/metrics",
		Timeout:     10 * time.Second,
	})
	return &testServer{handler: h, router: router}
}

func (s *testServer) do(t *testing.T, method, path, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func examiners() []*model.Examiner {
	return []*model.Examiner{
		{ID: "p1", Name: "内科甲", Department: "内科", Group: "none"},
		{ID: "p2", Name: "内科乙", Department: "内科", Group: "none"},
		{ID: "s1", Name: "外科甲", Department: "外科", Group: "none"},
		{ID: "s2", Name: "外科乙", Department: "外科", Group: "none"},
	}
}

func candidates(ids ...string) []*model.Candidate {
	out := make([]*model.Candidate, len(ids))
	for i, id := range ids {
		out[i] = &model.Candidate{ID: id, Name: "考生" + id, Department: "内科", Group: "none"}
	}
	return out
}

func doubleBooked() []*model.Assignment {
	return []*model.Assignment{
		{CandidateID: "c1", Department: "内科", Days: []model.ExamDay{
			{Date: "2025-09-08", Primary: "p1", Secondary: "s1", Backup: "p2"},
			{Date: "2025-09-09", Primary: "p1", Secondary: "s1", Backup: "p2"},
		}},
		{CandidateID: "c2", Department: "内科", Days: []model.ExamDay{
			{Date: "2025-09-08", Primary: "p1", Secondary: "s2"},
			{Date: "2025-09-09", Primary: "p1", Secondary: "s2"},
		}},
	}
}

func TestHealthAndMetricsSkipAuth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "examplan_http_requests_total")
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/weights", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[errorBody](t, rec).Code)

	rec = s.do(t, http.MethodGet, "/api/v1/weights", "k-unknown", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/weights", siteAKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, siteACode, rec.Header().Get("X-Tenant-ID"))

	// 考点A 未开通分配
	rec = s.do(t, http.MethodPost, "/api/v1/allocate", siteAKey, RosterRequest{})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decode[errorBody](t, rec).Code)
}

func TestRateLimitPerTenant(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/weights", limitKey, nil).Code)
	rec := s.do(t, http.MethodGet, "/api/v1/weights", limitKey, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// 其他考点不受影响
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/weights", adminKey, nil).Code)
}

func TestSelectWindow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/windows/select", adminKey, SelectRequest{
		Candidate: candidates("c1")[0],
		Examiners: examiners(),
		DateRange: &model.DateRange{StartDate: "2025-09-08", EndDate: "2025-09-12"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[envelope[window.Selection]](t, rec)
	assert.True(t, body.Success)
	require.True(t, body.Data.Success)
	require.NotNil(t, body.Data.SelectedWindow)
	assert.Equal(t, 1, model.DaysBetween(body.Data.SelectedWindow.Date1, body.Data.SelectedWindow.Date2))
}

func TestSelectWindowRejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/windows/select", adminKey, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decode[errorBody](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/windows/select", adminKey, SelectRequest{
		Candidate: candidates("c1")[0],
		Examiners: examiners(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "缺少日期")

	rec = s.do(t, http.MethodPost, "/api/v1/windows/select", adminKey, SelectRequest{
		Candidate: &model.Candidate{ID: "c1"},
		Examiners: examiners(),
		DateRange: &model.DateRange{StartDate: "2025-09-08", EndDate: "2025-09-12"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", decode[errorBody](t, rec).Code)
}

func TestPreCheckCandidateLimit(t *testing.T) {
	s := newTestServer(t)

	req := RosterRequest{
		Candidates: candidates("c1", "c2"),
		Examiners:  examiners(),
		DateRange:  &model.DateRange{StartDate: "2025-09-08", EndDate: "2025-09-12"},
	}
	rec := s.do(t, http.MethodPost, "/api/v1/precheck", siteAKey, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "超过考点上限")

	rec = s.do(t, http.MethodPost, "/api/v1/precheck", adminKey, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[envelope[model.FeasibilityReport]](t, rec).Data
	assert.GreaterOrEqual(t, report.Score, 0.0)

	req.DateRange = &model.DateRange{StartDate: "2025-09-12", EndDate: "2025-09-08"}
	rec = s.do(t, http.MethodPost, "/api/v1/precheck", adminKey, req)
	assert.Equal(t, "INVALID_TIME_RANGE", decode[errorBody](t, rec).Code)
}

func TestAllocateWithBalance(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/allocate", adminKey, RosterRequest{
		Candidates: candidates("c1", "c2"),
		Examiners:  examiners(),
		Dates:      []string{"2025-09-08", "2025-09-09", "2025-09-10"},
		Balance:    true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body envelope[struct {
		Success     bool                      `json:"success"`
		Allocations []*model.Assignment       `json:"allocations"`
		Windows     []pipeline.CandidateWindow `json:"windows"`
		Balance     json.RawMessage           `json:"balance"`
	}]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data.Allocations, 2)
	assert.Len(t, body.Data.Windows, 2)
	assert.NotEmpty(t, body.Data.Balance)
}

func TestConflictsDetectAndResolve(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/conflicts/detect", adminKey, StateRequest{
		Assignments: doubleBooked(),
		Examiners:   examiners(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	detected := decode[envelope[DetectResponse]](t, rec).Data
	assert.True(t, detected.Blocking)
	assert.Positive(t, detected.Summary[model.ConflictDoubleBooking])

	var target model.ConflictRecord
	for _, c := range detected.Conflicts {
		if c.Kind == model.ConflictDoubleBooking {
			target = c
			break
		}
	}

	rec = s.do(t, http.MethodPost, "/api/v1/conflicts/resolve", adminKey, ResolveRequest{
		Conflict:    target,
		Candidates:  candidates("c1", "c2"),
		Examiners:   examiners(),
		Assignments: doubleBooked(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resolved envelope[struct {
		Success bool `json:"success"`
	}]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.True(t, resolved.Data.Success)

	rec = s.do(t, http.MethodGet, "/api/v1/conflicts/statistics", adminKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMonitorAlertsAreIsolatedPerTenant(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/monitor", siteAKey, StateRequest{
		Assignments: doubleBooked(),
		Examiners:   examiners(),
		Candidates:  candidates("c1"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	check := decode[envelope[monitor.CheckResult]](t, rec).Data
	assert.NotEmpty(t, check.NewAlerts)

	rec = s.do(t, http.MethodGet, "/api/v1/alerts", siteAKey, nil)
	assert.NotEmpty(t, decode[envelope[[]model.Alert]](t, rec).Data)

	rec = s.do(t, http.MethodGet, "/api/v1/alerts", adminKey, nil)
	assert.Empty(t, decode[envelope[[]model.Alert]](t, rec).Data, "其他考点没有告警")

	pipelines := s.handler.Pipelines()
	require.Contains(t, pipelines, siteACode)
	assert.InDelta(t, 0.8, pipelines[siteACode].Config().ConfidenceFloor, 1e-9, "考点参数覆盖")
	assert.InDelta(t, window.DefaultConfidenceFloor, pipelines[tenant.DefaultCode].Config().ConfidenceFloor, 1e-9)
}

func TestPredict(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/monitor/predict", adminKey, StateRequest{
		Assignments: doubleBooked(),
		Examiners:   examiners(),
		From:        "2025-09-08",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[envelope[[]monitor.DateRisk]](t, rec).Data, 7)

	rec = s.do(t, http.MethodPost, "/api/v1/monitor/predict", adminKey, StateRequest{From: "not-a-date"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRotation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/rotation?start=2025-09-08&end=2025-09-11", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	patterns := decode[envelope[[]model.DutyPattern]](t, rec).Data
	require.Len(t, patterns, 4)
	groups := []string{patterns[0].DayShiftGroup, patterns[1].DayShiftGroup, patterns[2].DayShiftGroup, patterns[3].DayShiftGroup}
	assert.Equal(t, []string{"B", "C", "D", "A"}, groups)

	rec = s.do(t, http.MethodGet, "/api/v1/rotation?start=20250908", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[envelope[[]model.DutyPattern]](t, rec).Data, 1)

	rec = s.do(t, http.MethodGet, "/api/v1/rotation?start=abc", adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_DATE", decode[errorBody](t, rec).Code)

	rec = s.do(t, http.MethodGet, "/api/v1/rotation?start=2025-01-01&end=2026-12-31", adminKey, nil)
	assert.Equal(t, "INVALID_TIME_RANGE", decode[errorBody](t, rec).Code)
}

func TestWeightsAndConstraints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/weights", adminKey, nil)
	weights := decode[envelope[model.ConstraintWeights]](t, rec).Data
	assert.Equal(t, "static", weights.Source)
	assert.InDelta(t, 1.0, weights.Normalized.Sum(), 1e-9)

	rec = s.do(t, http.MethodGet, "/api/v1/constraints", adminKey, nil)
	lib := decode[envelope[constraints.LibraryResponse]](t, rec).Data
	assert.Equal(t, "static", lib.Source)
	assert.NotEmpty(t, lib.Library)
}

func TestSolverWithoutClient(t *testing.T) {
	s := newTestServer(t)

	req := SolverRequest{
		Candidates: candidates("c1"),
		Examiners:  examiners(),
		DateRange:  model.DateRange{StartDate: "2025-09-08", EndDate: "2025-09-12"},
	}
	rec := s.do(t, http.MethodPost, "/api/v1/solver", adminKey, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	built := decode[envelope[SolverResponse]](t, rec).Data
	require.NotNil(t, built.Request)
	assert.Equal(t, "2025-09-08", built.Request.DateRangeStart)
	assert.Nil(t, built.Result)

	req.Submit = true
	rec = s.do(t, http.MethodPost, "/api/v1/solver", adminKey, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "SOLVER_UNAVAILABLE", decode[errorBody](t, rec).Code)
}

func TestWorkload(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/stats/workload", adminKey, BalanceRequest{
		Assignments: doubleBooked(),
		Examiners:   examiners(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body envelope[struct {
		Workload json.RawMessage `json:"workload"`
		Coverage json.RawMessage `json:"coverage"`
	}]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Data.Workload)
	assert.NotEmpty(t, body.Data.Coverage)
}
