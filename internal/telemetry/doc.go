// Package telemetry provides OpenTelemetry instrumentation for tutord.
//
// # Overview
//
// This package implements distributed tracing and metrics collection using the
// OpenTelemetry Go SDK. It exports telemetry data to an OTEL Collector over
// OTLP (gRPC by default, http/protobuf optional).
//
// # Usage
//
// Create telemetry instance:
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("tutord.retriever")
//	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
//	defer span.End()
//
//	meter := tel.Meter("tutord.http")
//	counter, _ := meter.Int64Counter("http.requests")
//	counter.Add(ctx, 1)
//
// # Configuration
//
//	observability:
//	  enable_telemetry: true
//	  endpoint: "localhost:4317"
//	  service_name: "tutord"
//	  sample_rate: 1.0  # 100% in dev, lower in prod
//
// # Error Handling
//
// Telemetry failures do not crash the application. If telemetry cannot be
// initialized, the instance degrades gracefully and returns no-op providers.
//
// # Testing
//
// Use TestTelemetry for tests:
//
//	tt := telemetry.NewTestTelemetry()
//	tracer := tt.Tracer("test")
//	_, span := tracer.Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
