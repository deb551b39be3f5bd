package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStage(t *testing.T) {
	RecordStage("metrics-test-stage", true, 20*time.Millisecond)
	RecordStage("metrics-test-stage", true, 30*time.Millisecond)
	RecordStage("metrics-test-stage", false, time.Millisecond)

	r := GetRegistry()
	v, ok := r.Value(MetricStageRuns, "metrics-test-stage", "success")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	v, ok = r.Value(MetricStageRuns, "metrics-test-stage", "failure")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestGaugeHelpers(t *testing.T) {
	SetGauge(MetricActiveAlerts, 3, "metrics-test-kind")
	r := GetRegistry()
	r.GetGauge(MetricActiveAlerts).Dec("metrics-test-kind")

	v, ok := r.Value(MetricActiveAlerts, "metrics-test-kind")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	// 未注册的指标直接忽略
	SetGauge("examplan_unknown", 1)
	IncCounter("examplan_unknown")
	_, ok = r.Value("examplan_unknown")
	assert.False(t, ok)
}

func TestHandlerExposition(t *testing.T) {
	RecordRequestMetrics(http.MethodPost, "/metrics-test", http.StatusOK, 40*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "# TYPE "+MetricHTTPRequests+" counter")
	assert.Contains(t, body, `method="POST",path="/metrics-test",status="200"`)
	assert.Contains(t, body, MetricHTTPDuration+`_bucket{method="POST",path="/metrics-test",le="0.050000"} 1`)
	assert.Contains(t, body, MetricHTTPDuration+`_count{method="POST",path="/metrics-test"} 1`)
}
