// Package main generates sample metrics data for testing Grafana dashboards
// without pointing them at a real tutord deployment. Series names match what
// the daemon exports: the vectorstore collectors directly, and the OTLP
// instruments as a collector renders them in Prometheus.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics for testing dashboards
var (
	// Query pipeline metrics
	queryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutord_query_total",
			Help: "Total queries by outcome",
		},
		[]string{"outcome"},
	)
	queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutord_query_duration_seconds",
			Help:    "End-to-end query latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// Composer metrics
	compositionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutord_composer_compositions_total",
			Help: "Total answers produced by outcome",
		},
		[]string{"outcome"},
	)
	compositionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutord_composer_duration_seconds",
			Help:    "Answer composition time including chat model round trips",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	// Embedding metrics
	embeddingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutord_embedding_generation_duration_seconds",
			Help:    "Embedding generation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model", "operation"},
	)
	embeddingBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutord_embedding_batch_size",
			Help:    "Texts per embedding request",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
		[]string{"model", "operation"},
	)
	embeddingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutord_embedding_errors_total",
			Help: "Total embedding failures",
		},
		[]string{"model", "operation"},
	)

	// Vector store metrics
	storeOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutord_vectorstore_operations_total",
			Help: "Total number of vector store operations",
		},
		[]string{"op", "result"},
	)
	storeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutord_vectorstore_operation_duration_seconds",
			Help:    "Duration of vector store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	storePointsUpserted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tutord_vectorstore_points_upserted_total",
			Help: "Total number of points written to the vector store",
		},
	)
	storeHealth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tutord_vectorstore_health_status",
			Help: "Current backend health (1=healthy, 0=degraded)",
		},
	)

	// HTTP server metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutord_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutord_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutord_http_response_size_bytes",
			Help:    "HTTP response size",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
		[]string{"method", "endpoint"},
	)
	httpActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tutord_http_active_requests",
			Help: "In-flight HTTP requests",
		},
	)

	// MCP tool metrics
	mcpInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutord_mcp_tool_invocations_total",
			Help: "Total MCP tool invocations",
		},
		[]string{"tool"},
	)
	mcpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutord_mcp_tool_duration_seconds",
			Help:    "MCP tool execution time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)
	mcpErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutord_mcp_tool_errors_total",
			Help: "Total MCP tool failures",
		},
		[]string{"tool", "reason"},
	)
	mcpActiveRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tutord_mcp_tool_active_requests",
			Help: "In-flight MCP tool calls",
		},
		[]string{"tool"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		// Query pipeline
		queryTotal,
		queryDuration,
		// Composer
		compositionsTotal,
		compositionDuration,
		// Embeddings
		embeddingDuration,
		embeddingBatchSize,
		embeddingErrors,
		// Vector store
		storeOperations,
		storeOperationDuration,
		storePointsUpserted,
		storeHealth,
		// HTTP
		httpRequestsTotal,
		httpRequestDuration,
		httpResponseSize,
		httpActiveRequests,
		// MCP
		mcpInvocations,
		mcpDuration,
		mcpErrors,
		mcpActiveRequests,
	)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	// Generate initial sample data
	generateSampleData()

	// Start background goroutine to continuously generate data
	ctx, cancel := context.WithCancel(context.Background())
	go generateContinuousData(ctx)

	// Serve metrics
	http.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    ":" + port,
		Handler: nil,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
		server.Shutdown(context.Background())
	}()

	fmt.Printf("Sample metrics server running on http://localhost:%s/metrics\n", port)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println("\nTo use with Prometheus, add this to prometheus.yml:")
	fmt.Printf("  - job_name: 'tutord-test'\n    static_configs:\n      - targets: ['localhost:%s']\n", port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

var (
	outcomes   = []string{"covered", "covered", "covered", "refused", "error"}
	models     = []string{"BAAI/bge-small-en-v1.5", "text-embedding-3-small"}
	operations = []string{"documents", "query"}
	storeOps   = []string{"ensure_collection", "upsert", "search", "delete_by_chapter", "count"}
	endpoints  = []string{"/api/v1/query", "/api/v1/ingest", "/health"}
	tools      = []string{"textbook_query", "textbook_ingest"}
	reasons    = []string{"validation_error", "unavailable", "composition_error", "internal_error"}
)

func generateSampleData() {
	// Query pipeline and composer
	for i := 0; i < 150; i++ {
		outcome := randomChoice(outcomes)
		queryTotal.WithLabelValues(outcome).Inc()
		queryDuration.WithLabelValues(outcome).Observe(rand.Float64() * 3.0)
		compositionsTotal.WithLabelValues(outcome).Inc()
		compositionDuration.WithLabelValues(outcome).Observe(rand.Float64() * 2.5)
	}

	// Embeddings
	for i := 0; i < 200; i++ {
		model := randomChoice(models)
		op := randomChoice(operations)
		embeddingDuration.WithLabelValues(model, op).Observe(rand.Float64() * 0.4)
		if op == "documents" {
			embeddingBatchSize.WithLabelValues(model, op).Observe(float64(rand.Intn(100) + 1))
		} else {
			embeddingBatchSize.WithLabelValues(model, op).Observe(1)
		}
	}
	for i := 0; i < 6; i++ {
		embeddingErrors.WithLabelValues(randomChoice(models), randomChoice(operations)).Inc()
	}

	// Vector store
	for i := 0; i < 300; i++ {
		op := randomChoice(storeOps)
		result := "success"
		if rand.Float64() > 0.97 {
			result = "error"
		}
		storeOperations.WithLabelValues(op, result).Inc()
		storeOperationDuration.WithLabelValues(op).Observe(rand.Float64() * 0.2)
		if op == "upsert" && result == "success" {
			storePointsUpserted.Add(float64(rand.Intn(100) + 1))
		}
	}
	storeHealth.Set(1)

	// HTTP
	statuses := []string{"200", "200", "200", "400", "503"}
	methods := []string{"GET", "POST"}
	for i := 0; i < 250; i++ {
		endpoint := randomChoice(endpoints)
		method := randomChoice(methods)
		httpRequestsTotal.WithLabelValues(method, endpoint, randomChoice(statuses)).Inc()
		httpRequestDuration.WithLabelValues(method, endpoint).Observe(rand.Float64() * 1.5)
		httpResponseSize.WithLabelValues(method, endpoint).Observe(float64(rand.Intn(8192) + 256))
	}
	httpActiveRequests.Set(float64(rand.Intn(4)))

	// MCP tools
	for i := 0; i < 80; i++ {
		tool := randomChoice(tools)
		mcpInvocations.WithLabelValues(tool).Inc()
		mcpDuration.WithLabelValues(tool).Observe(rand.Float64() * 2.0)
	}
	for i := 0; i < 4; i++ {
		mcpErrors.WithLabelValues(randomChoice(tools), randomChoice(reasons)).Inc()
	}
	for _, tool := range tools {
		mcpActiveRequests.WithLabelValues(tool).Set(0)
	}
}

func generateContinuousData(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Steady query traffic
			if rand.Float64() > 0.2 {
				outcome := randomChoice(outcomes)
				queryTotal.WithLabelValues(outcome).Inc()
				queryDuration.WithLabelValues(outcome).Observe(rand.Float64() * 3.0)
				compositionsTotal.WithLabelValues(outcome).Inc()
				compositionDuration.WithLabelValues(outcome).Observe(rand.Float64() * 2.5)

				endpoint := "/api/v1/query"
				httpRequestsTotal.WithLabelValues("POST", endpoint, "200").Inc()
				httpRequestDuration.WithLabelValues("POST", endpoint).Observe(rand.Float64() * 1.5)
				httpResponseSize.WithLabelValues("POST", endpoint).Observe(float64(rand.Intn(8192) + 256))

				model := randomChoice(models)
				embeddingDuration.WithLabelValues(model, "query").Observe(rand.Float64() * 0.1)
				embeddingBatchSize.WithLabelValues(model, "query").Observe(1)

				storeOperations.WithLabelValues("search", "success").Inc()
				storeOperationDuration.WithLabelValues("search").Observe(rand.Float64() * 0.05)
			}

			// Health probes
			if rand.Float64() > 0.5 {
				httpRequestsTotal.WithLabelValues("GET", "/health", "200").Inc()
				httpRequestDuration.WithLabelValues("GET", "/health").Observe(rand.Float64() * 0.02)
			}

			// Occasional ingest burst
			if rand.Float64() > 0.9 {
				model := randomChoice(models)
				for i := 0; i < rand.Intn(10)+1; i++ {
					embeddingDuration.WithLabelValues(model, "documents").Observe(rand.Float64() * 0.4)
					embeddingBatchSize.WithLabelValues(model, "documents").Observe(float64(rand.Intn(100) + 1))
					storeOperations.WithLabelValues("upsert", "success").Inc()
					storeOperationDuration.WithLabelValues("upsert").Observe(rand.Float64() * 0.2)
					storePointsUpserted.Add(float64(rand.Intn(100) + 1))
				}
			}

			// Occasional MCP traffic
			if rand.Float64() > 0.6 {
				tool := randomChoice(tools)
				mcpInvocations.WithLabelValues(tool).Inc()
				mcpDuration.WithLabelValues(tool).Observe(rand.Float64() * 2.0)
				if rand.Float64() > 0.95 {
					mcpErrors.WithLabelValues(tool, randomChoice(reasons)).Inc()
				}
			}

			httpActiveRequests.Set(float64(rand.Intn(4)))
			storeHealth.Set(1)
		}
	}
}

func randomChoice(choices []string) string {
	return choices[rand.Intn(len(choices))]
}
