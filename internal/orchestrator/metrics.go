package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const orchestratorInstrumentationName = "github.com/fyrsmithlabs/tutord/internal/orchestrator"

// Metrics holds query pipeline metrics.
type Metrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	duration metric.Float64Histogram
	queries  metric.Int64Counter
}

// NewMetrics creates a new Metrics instance for the orchestrator.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(orchestratorInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	// End-to-end query time across validation, retrieval, and composition
	m.duration, err = m.meter.Float64Histogram(
		"tutord.query.duration_seconds",
		metric.WithDescription("End-to-end query pipeline time in seconds, labeled by outcome"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	// Queries by outcome: covered, refused, validation_error, unavailable, error
	m.queries, err = m.meter.Int64Counter(
		"tutord.query.total",
		metric.WithDescription("Total queries by outcome (covered, refused, validation_error, unavailable, error)"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		m.logger.Warn("failed to create query counter", zap.Error(err))
	}
}

// RecordQuery records one query through the pipeline.
func (m *Metrics) RecordQuery(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))

	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if m.queries != nil {
		m.queries.Add(ctx, 1, attrs)
	}
}
