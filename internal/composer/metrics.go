package composer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const composerInstrumentationName = "github.com/fyrsmithlabs/tutord/internal/composer"

// Metrics holds answer composition metrics.
type Metrics struct {
	meter        metric.Meter
	logger       *zap.Logger
	duration     metric.Float64Histogram
	compositions metric.Int64Counter
}

// NewMetrics creates a new Metrics instance for the composer.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(composerInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	// End-to-end composition time, dominated by the chat round trip
	m.duration, err = m.meter.Float64Histogram(
		"tutord.composer.duration_seconds",
		metric.WithDescription("Answer composition time in seconds, including chat model round trips, labeled by outcome"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	// Answers by outcome: covered, refused, error
	m.compositions, err = m.meter.Int64Counter(
		"tutord.composer.compositions_total",
		metric.WithDescription("Total answers produced by outcome (covered, refused, error). Refusals are answered without a chat call."),
		metric.WithUnit("{answer}"),
	)
	if err != nil {
		m.logger.Warn("failed to create compositions counter", zap.Error(err))
	}
}

// RecordComposition records one composition attempt.
func (m *Metrics) RecordComposition(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))

	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if m.compositions != nil {
		m.compositions.Add(ctx, 1, attrs)
	}
}
