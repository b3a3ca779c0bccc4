// Tutord is a textbook question-answering daemon.
//
// The binary serves the HTTP API by default and switches to an MCP stdio
// transport with --mcp. Both modes run the same pipeline: embeddings,
// vector store retrieval, and LLM answer composition.
//
// Configuration is loaded from a YAML file and environment variables. See
// internal/config for details.
//
// Usage:
//
//	# Start the HTTP daemon with defaults
//	tutord
//
//	# Load a config file, override via environment
//	tutord --config ~/.config/tutord/config.yaml
//	SERVER_PORT=9090 STORE_BACKEND=chromem tutord
//
//	# Serve MCP over stdio for editor integration
//	tutord --mcp
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/composer"
	"github.com/fyrsmithlabs/tutord/internal/config"
	"github.com/fyrsmithlabs/tutord/internal/embeddings"
	tutorhttp "github.com/fyrsmithlabs/tutord/internal/http"
	"github.com/fyrsmithlabs/tutord/internal/ingest"
	"github.com/fyrsmithlabs/tutord/internal/logging"
	"github.com/fyrsmithlabs/tutord/internal/orchestrator"
	"github.com/fyrsmithlabs/tutord/internal/retriever"
	"github.com/fyrsmithlabs/tutord/internal/telemetry"
	"github.com/fyrsmithlabs/tutord/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	mcpMode := flag.Bool("mcp", false, "serve MCP over stdio instead of the HTTP API")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  tutord            Start the tutord daemon\n")
			fmt.Fprintf(os.Stderr, "  tutord --mcp      Serve MCP over stdio\n")
			fmt.Fprintf(os.Stderr, "  tutord version    Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if *mcpMode {
		if err := runStdio(ctx, *configPath); err != nil {
			log.Fatalf("MCP server error: %v", err)
		}
		log.Println("MCP server shutdown complete")
		return
	}

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("tutord by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the tutord HTTP daemon and blocks until the context is
// cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the structured logger
//  3. Creates the embedding provider and vector store
//  4. Builds the retriever, composer, orchestrator, and ingest pipeline
//  5. Starts the HTTP server with health checks and /metrics
//  6. Performs graceful shutdown on context cancellation
//
// Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger, err := initLogger(cfg, tel, false)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	zlog := logger.Underlying()

	zlog.Info("Starting tutord",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	deps, err := initDependencies(ctx, cfg, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	services, err := initServices(deps, cfg, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	srv, err := tutorhttp.NewServer(services.orchestrator, services.pipeline, zlog,
		serverConfig(cfg), healthChecks(cfg, deps)...)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	// Register metrics endpoint
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	zlog.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// dependencies holds the infrastructure the pipeline runs on.
type dependencies struct {
	store    vectorstore.Store
	provider embeddings.Provider
	logger   *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("Vector store close failed", zap.Error(err))
		}
	}
	if d.provider != nil {
		if err := d.provider.Close(); err != nil {
			d.logger.Warn("Embedding provider close failed", zap.Error(err))
		}
	}
}

// services holds the query and ingestion services built on the
// dependencies.
type services struct {
	orchestrator *orchestrator.Orchestrator
	pipeline     *ingest.Pipeline
}

// initLogger initializes the structured logger. In stdio mode logs go to
// stderr because stdout carries the MCP protocol stream.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry, stderr bool) (*logging.Logger, error) {
	lcfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if stderr {
		lcfg.Output.Stdout = false
		lcfg.Output.Stderr = true
	}
	if tel != nil && tel.LoggerProvider() != nil {
		lcfg.Output.OTEL = true
		return logging.NewLogger(lcfg, tel.LoggerProvider())
	}
	return logging.NewLogger(lcfg, nil)
}

// initDependencies creates the embedding provider and vector store.
//
// The provider comes first: when store.vector_size is unset the collection
// dimension is derived from the active embedding model.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	provider, err := embeddings.NewProvider(embeddings.FromAppConfig(cfg.Embeddings))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	logger.Info("Embedding provider initialized",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimension", provider.Dimension()))

	vectorSize := cfg.Store.VectorSize
	if vectorSize == 0 {
		vectorSize = provider.Dimension()
	}

	store, err := vectorstore.NewStore(vectorstore.FromAppConfig(cfg.Store, vectorSize), logger)
	if err != nil {
		_ = provider.Close()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	// Ensure the collection exists (idempotent)
	if err := store.EnsureCollection(ctx); err != nil {
		_ = store.Close()
		_ = provider.Close()
		return nil, fmt.Errorf("failed to ensure collection exists: %w", err)
	}

	logger.Info("Vector store initialized",
		zap.String("backend", cfg.Store.Backend),
		zap.String("collection", cfg.Store.Collection),
		zap.Int("vector_size", vectorSize))

	return &dependencies{
		store:    store,
		provider: provider,
		logger:   logger,
	}, nil
}

// initServices builds the retriever, composer, orchestrator, and ingest
// pipeline on top of the initialized dependencies.
func initServices(deps *dependencies, cfg *config.Config, logger *zap.Logger) (*services, error) {
	client, err := composer.NewClient(composer.FromAppConfig(cfg.LLM))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat client: %w", err)
	}

	ret := retriever.New(deps.store, deps.provider, retriever.FromAppConfig(cfg.Retrieval), logger)
	comp := composer.New(client, logger)
	orch := orchestrator.New(ret, comp, logger)

	pipeline, err := ingest.New(deps.store, deps.provider, ingest.FromAppConfig(cfg.Ingestion), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion pipeline: %w", err)
	}

	return &services{
		orchestrator: orch,
		pipeline:     pipeline,
	}, nil
}

// healthChecks builds the GET /health dependency probes. The store check
// is critical: ingestion and retrieval are both dead without it.
func healthChecks(cfg *config.Config, deps *dependencies) []tutorhttp.Check {
	return []tutorhttp.Check{
		{
			Name:     cfg.Store.Backend,
			Critical: true,
			Probe:    deps.store.Healthy,
		},
		{
			Name: "embedder",
			Probe: func(ctx context.Context) error {
				_, err := deps.provider.EmbedQuery(ctx, "health probe")
				return err
			},
		},
	}
}

// serverConfig maps the application config onto the HTTP server config.
func serverConfig(cfg *config.Config) *tutorhttp.Config {
	return &tutorhttp.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit:   cfg.Server.QueryRateLimit,
		RateBurst:   cfg.Server.QueryRateBurst,
		Version:     version,
	}
}

