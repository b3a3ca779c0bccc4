// Package http provides the HTTP API for tutord.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/tutord/internal/ingest"
	"github.com/fyrsmithlabs/tutord/internal/orchestrator"
	apiv1 "github.com/fyrsmithlabs/tutord/pkg/api/v1"
)

// healthProbeTimeout bounds each dependency probe in GET /health.
const healthProbeTimeout = 2 * time.Second

// Querier answers textbook questions. *orchestrator.Orchestrator satisfies
// it.
type Querier interface {
	Query(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error)
}

// Ingestor runs a full corpus ingestion. *ingest.Pipeline satisfies it.
type Ingestor interface {
	Run(ctx context.Context, dir string) (ingest.Report, error)
}

// Check probes one dependency for GET /health. A failing critical check
// takes the endpoint to 503; a failing non-critical check only degrades it.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// Server provides HTTP endpoints for tutord.
type Server struct {
	echo         *echo.Echo
	querier      Querier
	ingestor     Ingestor
	checks       []Check
	logger       *zap.Logger
	config       *Config
	metrics      *HTTPMetrics
	ingestActive atomic.Bool
}

// Config holds HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigins []string

	// RateLimit is the sustained queries per second allowed on
	// POST /api/v1/query, with RateBurst on top. Zero disables limiting.
	RateLimit float64
	RateBurst int

	// Version is reported by GET /health.
	Version string
}

// NewServer creates a new HTTP server.
func NewServer(querier Querier, ingestor Ingestor, logger *zap.Logger, cfg *Config, checks ...Check) (*Server, error) {
	if querier == nil {
		return nil, fmt.Errorf("querier cannot be nil")
	}
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host:      "localhost",
			Port:      8080,
			RateLimit: 10,
			RateBurst: 20,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := NewHTTPMetrics(logger)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})
	e.Use(metrics.MetricsMiddleware())
	e.Use(middleware.BodyLimit("1M"))
	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
		}))
	}

	s := &Server{
		echo:     e,
		querier:  querier,
		ingestor: ingestor,
		checks:   checks,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check
	s.echo.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	if s.config.RateLimit > 0 {
		burst := s.config.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(s.config.RateLimit), burst)
		v1.POST("/query", s.handleQuery, queryRateLimit(limiter))
	} else {
		v1.POST("/query", s.handleQuery)
	}
	v1.POST("/ingest", s.handleIngest)
}

// queryRateLimit rejects requests over the limiter's budget with 429. One
// limiter covers all clients; tutord serves a single local student.
func queryRateLimit(limiter *rate.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiter.Allow() {
				return writeError(c, http.StatusTooManyRequests, apiv1.CodeRateLimited, "query rate limit exceeded")
			}
			return next(c)
		}
	}
}

// Echo returns the underlying Echo instance for registering additional
// routes, such as the Prometheus /metrics handler.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
