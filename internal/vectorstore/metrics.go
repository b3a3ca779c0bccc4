package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: op (ensure_collection, upsert, search, delete_by_chapter,
	// count), result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutord",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"op", "result"},
	)

	// OperationDuration tracks how long store operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tutord",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// PointsUpserted counts points written across all upserts.
	PointsUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tutord",
			Subsystem: "vectorstore",
			Name:      "points_upserted_total",
			Help:      "Total number of points written to the vector store",
		},
	)

	// HealthStatus indicates current backend health (1=healthy, 0=degraded).
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tutord",
			Subsystem: "vectorstore",
			Name:      "health_status",
			Help:      "Current backend health (1=healthy, 0=degraded)",
		},
	)
)

// observeOp records the outcome and latency of a store operation.
func observeOp(op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(op, result).Inc()
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// RecordHealthStatus updates the health gauge after a health probe.
func RecordHealthStatus(healthy bool) {
	if healthy {
		HealthStatus.Set(1)
	} else {
		HealthStatus.Set(0)
	}
}
