package mcp

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/ingest"
	"github.com/fyrsmithlabs/tutord/internal/orchestrator"
)

// Querier answers textbook questions. *orchestrator.Orchestrator satisfies
// it.
type Querier interface {
	Query(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error)
}

// Ingestor runs a full corpus ingestion. *ingest.Pipeline satisfies it.
type Ingestor interface {
	Run(ctx context.Context, dir string) (ingest.Report, error)
}

// Server exposes the textbook tools over the MCP stdio transport.
type Server struct {
	mcp          *mcp.Server
	querier      Querier
	ingestor     Ingestor
	metrics      *Metrics
	logger       *zap.Logger
	ingestActive atomic.Bool
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "tutord")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "tutord",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a new MCP server around the query orchestrator and
// ingest pipeline.
func NewServer(cfg *Config, querier Querier, ingestor Ingestor) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if querier == nil {
		return nil, fmt.Errorf("querier is required")
	}
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}

	// Create MCP server
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:      mcpServer,
		querier:  querier,
		ingestor: ingestor,
		metrics:  NewMetrics(cfg.Logger),
		logger:   cfg.Logger,
	}

	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
