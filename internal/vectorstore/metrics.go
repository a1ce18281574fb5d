package vectorstore

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: provider (chromem, qdrant), operation, result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coachrag",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"provider", "operation", "result"},
	)

	// OperationDuration tracks store operation latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coachrag",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// RecordsWritten counts records upserted.
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coachrag",
			Subsystem: "vectorstore",
			Name:      "records_written_total",
			Help:      "Total number of records upserted",
		},
		[]string{"provider"},
	)

	// RetriesTotal counts transient-failure retries against the index service.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coachrag",
			Subsystem: "vectorstore",
			Name:      "retries_total",
			Help:      "Total number of retried vector store calls",
		},
		[]string{"provider", "operation"},
	)
)

// observe records the outcome and latency of one operation.
func observe(provider, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
		if errors.Is(err, ErrMissingFilter) {
			result = "rejected"
		}
	}
	OperationsTotal.WithLabelValues(provider, operation, result).Inc()
	OperationDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}
