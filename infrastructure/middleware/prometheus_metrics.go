// Package middleware provides cross-cutting concerns for the scoring
// core, currently the Prometheus metrics collector.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/confscore/scoresync/internal/ports"
)

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. It provides real-time monitoring of store operation
// latency, retry and fallback rates, connection state, and
// reconciliation job progress.
type PrometheusMetrics struct {
	operationLatency *prometheus.HistogramVec
	eventCounter     *prometheus.CounterVec
	stateGauges      *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance and
// registers all metrics with the given registerer. Passing
// prometheus.DefaultRegisterer wires the process-wide registry; a nil
// registerer leaves the metrics unregistered, which keeps tests free
// of duplicate-registration panics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		operationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scoresync_operation_duration_seconds",
				Help:    "Execution time of store and reconciliation operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		eventCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scoresync_events_total",
				Help: "Counts of retries, fallbacks, reconnects, and reconciliation item outcomes.",
			},
			[]string{"event", "operation", "status"},
		),
		stateGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scoresync_state",
				Help: "Current state values, including the connection state machine.",
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency implements the MetricsCollector interface by
// recording execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, _ map[string]string) {
	pm.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by
// incrementing the event counter with the operation and status labels
// carried by the caller.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	pm.eventCounter.WithLabelValues(metric, labels["operation"], labels["status"]).Add(value)
}

// RecordGauge implements the MetricsCollector interface by setting a
// named gauge.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, _ map[string]string) {
	pm.stateGauges.WithLabelValues(metric).Set(value)
}
