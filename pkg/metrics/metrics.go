// Package metrics defines the Prometheus collectors for the search pipeline
// and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchesTotal        *prometheus.CounterVec
	StageLatency         *prometheus.HistogramVec
	ListingsPerSearch    prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	ScoreIncrementsTotal *prometheus.CounterVec
	JobRunsTotal         *prometheus.CounterVec
	JobDuration          *prometheus.HistogramVec
	BackupRowsTotal      *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewForRegistry(prometheus.DefaultRegisterer)
}

// NewForRegistry registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not panic.
func NewForRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "property_searches_total",
				Help: "Search pipeline runs by terminal state (completed, failed_extraction, failed_fetch).",
			},
			[]string{"outcome"},
		),
		StageLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "property_search_stage_seconds",
				Help:    "Latency of each search pipeline stage.",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		ListingsPerSearch: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "property_search_listings",
				Help:    "Number of listings available per completed search.",
				Buckets: []float64{0, 1, 5, 10, 20, 30, 40, 50},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "listing_cache_hits_total",
				Help: "Total number of listing cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "listing_cache_misses_total",
				Help: "Total number of listing cache misses.",
			},
		),
		ScoreIncrementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyword_score_increments_total",
				Help: "Score store increments by dimension.",
			},
			[]string{"dimension"},
		),
		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduled_job_runs_total",
				Help: "Scheduled job iterations by job and result.",
			},
			[]string{"job", "result"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scheduled_job_duration_seconds",
				Help:    "Duration of scheduled job iterations.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"job"},
		),
		BackupRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backup_rows_total",
				Help: "Rows upserted by the durability backup, by table and result.",
			},
			[]string{"table", "result"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchesTotal,
		m.StageLatency,
		m.ListingsPerSearch,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ScoreIncrementsTotal,
		m.JobRunsTotal,
		m.JobDuration,
		m.BackupRowsTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
