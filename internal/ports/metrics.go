package ports

import "time"

// MetricsCollector defines the interface for collecting operational
// metrics. Implementations should integrate with observability
// platforms like Prometheus; a nil collector is treated as a no-op
// by every component that holds one.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// Used for retry attempts, fallbacks, reconciliation item
	// outcomes, and similar events.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	// Used for the connection state and in-flight work.
	RecordGauge(metric string, value float64, labels map[string]string)
}
