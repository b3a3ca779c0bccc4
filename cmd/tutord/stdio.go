package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/config"
	"github.com/fyrsmithlabs/tutord/internal/mcp"
)

// runStdio starts the MCP server in stdio mode for editor integration.
//
// The full pipeline runs in-process, exactly as in HTTP mode; only the
// transport differs. Logs go to stderr because stdout carries the MCP
// protocol stream.
func runStdio(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := initLogger(cfg, nil, true)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zlog := logger.Underlying()

	zlog.Info("Starting tutord in MCP stdio mode",
		zap.String("version", version),
		zap.String("store_backend", cfg.Store.Backend))

	deps, err := initDependencies(ctx, cfg, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	services, err := initServices(deps, cfg, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "tutord",
		Version: version,
		Logger:  zlog,
	}, services.orchestrator, services.pipeline)
	if err != nil {
		return fmt.Errorf("failed to create stdio server: %w", err)
	}

	// Startup note to stderr (stdout is the protocol channel)
	fmt.Fprintf(os.Stderr, "tutord MCP server started (stdio)\n")

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("stdio server error: %w", err)
	}

	zlog.Info("stdio MCP server shutdown complete")
	return nil
}
