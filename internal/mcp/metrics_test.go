package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/composer"
	"github.com/fyrsmithlabs/tutord/internal/orchestrator"
	"github.com/fyrsmithlabs/tutord/internal/retriever"
	"github.com/fyrsmithlabs/tutord/internal/vectorstore"
)

func TestMetrics_RecordInvocation(t *testing.T) {
	// Create a manual reader to collect metrics
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	// Create metrics with test meter
	logger := zap.NewNop()
	m := &Metrics{
		meter:  mp.Meter(instrumentationName),
		logger: logger,
	}
	m.init()

	ctx := context.Background()

	// Test successful invocation
	m.RecordInvocation(ctx, "textbook_query", 100*time.Millisecond, nil)

	// Test invocation with error
	m.RecordInvocation(ctx, "textbook_query", 50*time.Millisecond, errors.New("boom"))

	// Collect metrics
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	// Verify we got metrics
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected scope metrics, got none")
	}

	// Check for expected metric names
	foundInvocations := false
	foundDuration := false
	foundErrors := false

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "tutord.mcp.tool.invocations_total":
				foundInvocations = true
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					total := int64(0)
					for _, dp := range sum.DataPoints {
						total += dp.Value
					}
					if total != 2 {
						t.Errorf("expected 2 invocations, got %d", total)
					}
				}
			case "tutord.mcp.tool.duration_seconds":
				foundDuration = true
			case "tutord.mcp.tool.errors_total":
				foundErrors = true
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					total := int64(0)
					for _, dp := range sum.DataPoints {
						total += dp.Value
					}
					if total != 1 {
						t.Errorf("expected 1 error, got %d", total)
					}
				}
			}
		}
	}

	if !foundInvocations {
		t.Error("invocations counter not found")
	}
	if !foundDuration {
		t.Error("duration histogram not found")
	}
	if !foundErrors {
		t.Error("errors counter not found")
	}
}

func TestMetrics_ActiveRequests(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	logger := zap.NewNop()
	m := &Metrics{
		meter:  mp.Meter(instrumentationName),
		logger: logger,
	}
	m.init()

	ctx := context.Background()

	// Increment twice
	m.IncrementActive(ctx, "textbook_query")
	m.IncrementActive(ctx, "textbook_query")

	// Decrement once
	m.DecrementActive(ctx, "textbook_query")

	// Collect metrics
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	// Find active requests metric
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if metric.Name != "tutord.mcp.tool.active_requests" {
				continue
			}
			found = true
			if sum, ok := metric.Data.(metricdata.Sum[int64]); ok {
				total := int64(0)
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
				if total != 1 {
					t.Errorf("expected 1 active request, got %d", total)
				}
			}
		}
	}

	if !found {
		t.Error("active requests gauge not found")
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, ""},
		{"validation", fmt.Errorf("%w: query_text is required", orchestrator.ErrValidation), "validation_error"},
		{"retrieval outage", fmt.Errorf("retrieving evidence: %w", retriever.ErrRetrievalUnavailable), "unavailable"},
		{"store outage", fmt.Errorf("ensuring collection: %w", vectorstore.ErrUnavailable), "unavailable"},
		{"composition", fmt.Errorf("composing answer: %w", composer.ErrComposition), "composition_error"},
		{"unknown", errors.New("boom"), "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := categorizeError(tt.err); got != tt.expected {
				t.Errorf("categorizeError(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}
