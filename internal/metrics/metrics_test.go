package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveAnalysis(OutcomeOK, 20*time.Millisecond)
	m.ObserveAnalysis(OutcomeOK, 30*time.Millisecond)
	m.ObserveAnalysis(OutcomeNotFound, time.Millisecond)
	m.ObserveCompute(time.Millisecond, 2*time.Millisecond, 41, 5)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.SetBreakerState("backend", 1)
	m.BatchRun("ok")

	if got := testutil.ToFloat64(m.AnalysisTotal.WithLabelValues(OutcomeOK)); got != 2 {
		t.Errorf("ok outcomes: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PatternCandidates); got != 41 {
		t.Errorf("candidates: got %v, want 41", got)
	}
	if got := testutil.ToFloat64(m.CacheMisses); got != 2 {
		t.Errorf("cache misses: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.BreakerState.WithLabelValues("backend")); got != 1 {
		t.Errorf("breaker state: got %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAnalysis(OutcomeOK, time.Second)
	m.ObserveCompute(0, 0, 1, 1)
	m.CacheLookup(true)
	m.SetBreakerState("x", 0)
	m.PublishFailed("redis")
	m.BatchRun("ok")
	m.StreamClientDelta(1)
}

func TestHealth_DisabledDependenciesStayHealthy(t *testing.T) {
	h := NewHealthStatus(false, false)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
}

func TestHealth_Degraded(t *testing.T) {
	h := NewHealthStatus(true, false)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("redis enabled but down: expected 503, got %d", rec.Code)
	}

	h.SetRedisConnected(true)
	h.SetBackendState("open")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("backend breaker open: expected 503, got %d", rec.Code)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveAnalysis(OutcomeOK, time.Millisecond)

	srv := NewServer(":0", NewHealthStatus(false, false), reg)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `worker_analysis_total{outcome="ok"} 1`) {
		t.Fatalf("metrics output missing counter:\n%s", rec.Body.String())
	}
}
