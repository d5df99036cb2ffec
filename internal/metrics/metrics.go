package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Analysis outcomes used as the "outcome" label.
const (
	OutcomeOK            = "ok"
	OutcomeInvalid       = "invalid"
	OutcomeUpstreamError = "upstream_error"
	OutcomeNotFound      = "not_found"
)

// Metrics holds all Prometheus metrics for the analysis worker.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	AnalysisTotal *prometheus.CounterVec // labels: outcome
	AnalysisDur   prometheus.Histogram

	// Core compute
	IndicatorComputeDur prometheus.Histogram
	PatternScanDur      prometheus.Histogram
	PatternCandidates   prometheus.Counter
	PatternMatches      prometheus.Histogram

	// Collaborators
	FetchDur     prometheus.Histogram
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	BreakerState *prometheus.GaugeVec   // labels: name; 0=closed, 1=open, 2=half-open
	PublishFails *prometheus.CounterVec // labels: sink

	// Batch & stream
	BatchRuns     *prometheus.CounterVec // labels: result=ok|failed|skipped
	StreamClients prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg.
// Tests pass prometheus.NewRegistry(); binaries pass prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	computeBuckets := []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05}

	m := &Metrics{
		AnalysisTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_analysis_total",
			Help: "Analysis requests by outcome",
		}, []string{"outcome"}),
		AnalysisDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_analysis_duration_seconds",
			Help:    "End-to-end analysis latency including fetch",
			Buckets: prometheus.DefBuckets,
		}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_indicator_compute_duration_seconds",
			Help:    "Indicator engine latency per analysis",
			Buckets: computeBuckets,
		}),
		PatternScanDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_pattern_scan_duration_seconds",
			Help:    "Pattern scanner latency per analysis",
			Buckets: computeBuckets,
		}),
		PatternCandidates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_pattern_candidates_total",
			Help: "Candidate windows scored by the pattern scanner",
		}),
		PatternMatches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_pattern_matches",
			Help:    "Matches returned per analysis",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		}),

		FetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_fetch_duration_seconds",
			Help:    "Price fetch latency",
			Buckets: prometheus.DefBuckets,
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_cache_hits_total",
			Help: "Bar cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_cache_misses_total",
			Help: "Bar cache misses",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "worker_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		PublishFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_publish_failures_total",
			Help: "Result publish failures by sink",
		}, []string{"sink"}),

		BatchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_batch_runs_total",
			Help: "Per-stock batch analyses by result",
		}, []string{"result"}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worker_stream_clients",
			Help: "Connected websocket stream clients",
		}),
	}

	reg.MustRegister(
		m.AnalysisTotal,
		m.AnalysisDur,
		m.IndicatorComputeDur,
		m.PatternScanDur,
		m.PatternCandidates,
		m.PatternMatches,
		m.FetchDur,
		m.CacheHits,
		m.CacheMisses,
		m.BreakerState,
		m.PublishFails,
		m.BatchRuns,
		m.StreamClients,
	)
	return m
}

// ObserveAnalysis records one finished analysis.
func (m *Metrics) ObserveAnalysis(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AnalysisTotal.WithLabelValues(outcome).Inc()
	m.AnalysisDur.Observe(d.Seconds())
}

// ObserveCompute records indicator and scan latency plus scan counters.
func (m *Metrics) ObserveCompute(indicators, scan time.Duration, candidates, matches int) {
	if m == nil {
		return
	}
	m.IndicatorComputeDur.Observe(indicators.Seconds())
	m.PatternScanDur.Observe(scan.Seconds())
	m.PatternCandidates.Add(float64(candidates))
	m.PatternMatches.Observe(float64(matches))
}

// ObserveFetch records one upstream fetch.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDur.Observe(d.Seconds())
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// SetBreakerState exports a breaker state as a gauge.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// PublishFailed counts a failed publish to sink.
func (m *Metrics) PublishFailed(sink string) {
	if m == nil {
		return
	}
	m.PublishFails.WithLabelValues(sink).Inc()
}

// BatchRun counts one per-stock batch result.
func (m *Metrics) BatchRun(result string) {
	if m == nil {
		return
	}
	m.BatchRuns.WithLabelValues(result).Inc()
}

// StreamClientDelta adjusts the connected stream client gauge.
func (m *Metrics) StreamClientDelta(d float64) {
	if m == nil {
		return
	}
	m.StreamClients.Add(d)
}
