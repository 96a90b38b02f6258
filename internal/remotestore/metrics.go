// Package remotestore provides Prometheus metrics for remote store health.
package remotestore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationDuration tracks remote store operation latency.
	// Labels: backend (qdrant, chromem), operation (query, similarity_search,
	// upsert, increment_counter, adjust_confidence)
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lessond",
			Subsystem: "remotestore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of remote store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// OperationsTotal counts remote store operations.
	// Labels: backend, operation, result (success, error, unavailable)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lessond",
			Subsystem: "remotestore",
			Name:      "operations_total",
			Help:      "Total number of remote store operations",
		},
		[]string{"backend", "operation", "result"},
	)

	// DegradedRetrievals counts retrievals that fell back to local-only
	// because the remote store was unavailable.
	DegradedRetrievals = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lessond",
			Subsystem: "remotestore",
			Name:      "degraded_retrievals_total",
			Help:      "Total retrievals served without remote results due to store unavailability",
		},
	)
)

// RecordOperation records duration and outcome for a remote store operation.
func RecordOperation(backend, operation string, duration time.Duration, result string) {
	OperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	OperationsTotal.WithLabelValues(backend, operation, result).Inc()
}
