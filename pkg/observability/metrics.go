// Package observability provides Prometheus metrics, health checks and
// OpenTelemetry tracing for the snowcode session engine.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session lifecycle metrics
	sessionOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowcode_session_ops_total",
			Help: "Total number of session operations",
		},
		[]string{"op", "status"},
	)

	sessionOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snowcode_session_op_duration_seconds",
			Help:    "Session operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Bus metrics
	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowcode_events_published_total",
			Help: "Total number of events published on the bus",
		},
		[]string{"type"},
	)

	// Stats rollup gauges, refreshed by the stats scheduler
	totalCostUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snowcode_total_cost_usd",
			Help: "Accumulated model cost across all stored sessions",
		},
	)

	totalTokens = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snowcode_total_tokens",
			Help: "Accumulated token counts across all stored sessions",
		},
		[]string{"kind"},
	)

	storedSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snowcode_stored_sessions",
			Help: "Number of stored sessions",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			sessionOpsTotal,
			sessionOpDuration,
			eventsPublishedTotal,
			totalCostUSD,
			totalTokens,
			storedSessions,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionOp records a session operation outcome.
func RecordSessionOp(op string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	sessionOpsTotal.WithLabelValues(op, status).Inc()
	sessionOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordEventPublished records one published bus event.
func RecordEventPublished(eventType string) {
	eventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// SetStatsRollup updates the aggregate gauges from a stats pass.
func SetStatsRollup(costUSD float64, input, output, reasoning, cacheRead, cacheWrite int64, sessions int) {
	totalCostUSD.Set(costUSD)
	totalTokens.WithLabelValues("input").Set(float64(input))
	totalTokens.WithLabelValues("output").Set(float64(output))
	totalTokens.WithLabelValues("reasoning").Set(float64(reasoning))
	totalTokens.WithLabelValues("cache_read").Set(float64(cacheRead))
	totalTokens.WithLabelValues("cache_write").Set(float64(cacheWrite))
	storedSessions.Set(float64(sessions))
}
