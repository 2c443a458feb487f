// Package telemetry provides observability primitives for the gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	// KeyErrorsTotal is emitted by keypool.Pool.MarkError, labeled by
	// provider, key ID, and error kind, per spec §4.1.
	KeyErrorsTotal *prometheus.CounterVec

	// KeySelections counts successful Pool.Select calls per provider,
	// for observing rotation pressure.
	KeySelections *prometheus.CounterVec

	// TokensRecorded is a per-provider token counter. It is registered and
	// exported, but nothing in the gateway increments it, so it stays at 0.
	TokensRecorded *prometheus.CounterVec

	// RunsTotal counts terminal run outcomes by status.
	RunsTotal *prometheus.CounterVec

	// RunAttempts observes the attempt count a run finished on.
	RunAttempts *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgateway",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "llmgateway",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "llmgateway",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		KeyErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgateway",
			Name:      "key_errors_total",
			Help:      "Total provider key errors by kind.",
		}, []string{"provider", "key_id", "kind"}),

		KeySelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgateway",
			Name:      "key_selections_total",
			Help:      "Total successful key selections per provider.",
		}, []string{"provider"}),

		TokensRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgateway",
			Name:      "tokens_recorded_total",
			Help:      "Total tokens recorded to the time series store.",
		}, []string{"provider"}),

		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgateway",
			Name:      "runs_total",
			Help:      "Total async runs by terminal status.",
		}, []string{"provider", "status"}),

		RunAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmgateway",
			Name:      "run_attempts",
			Help:      "Attempt count a run finished on.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}, []string{"provider"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.KeyErrorsTotal,
		m.KeySelections,
		m.TokensRecorded,
		m.RunsTotal,
		m.RunAttempts,
	)

	return m
}
