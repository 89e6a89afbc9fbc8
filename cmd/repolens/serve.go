package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apihttp "github.com/fyrsmithlabs/repolens/internal/http"
	"github.com/fyrsmithlabs/repolens/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API on server.host:server.port.

Routes are served under /api/v1, with /health and /metrics at the root.
SIGINT or SIGTERM drains in-flight requests for up to server.shutdown_timeout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio",
	Long: `Serve the repository tools to an MCP client over stdin/stdout.

Logs go to stderr so they never corrupt the protocol stream.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMCP(cmd.Context())
	},
}

// runServe starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	deps, err := initDependencies(ctx, cfg, depsOptions{registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer func() { _ = deps.Close() }()

	srv, err := apihttp.NewServer(apihttp.Deps{
		Repositories: deps.repos,
		Indexer:      deps.indexer,
		Retriever:    deps.retriever,
		Metadata:     deps.metadata,
		Gatherer:     prometheus.DefaultGatherer,
		Metrics:      apihttp.NewHTTPMetrics(deps.logger.Underlying()),
	}, deps.logger.Named("http"), &apihttp.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	deps.logger.Info(context.Background(), "shutdown signal received",
		zap.Duration("timeout", cfg.Server.ShutdownTimeout.Duration()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// runMCP serves MCP over stdio until the client disconnects or ctx is
// cancelled.
func runMCP(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	deps, err := initDependencies(ctx, cfg, depsOptions{stderrLogs: true})
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer func() { _ = deps.Close() }()

	server, err := mcp.NewServer(&mcp.Config{
		Name:     "repolens",
		Version:  version,
		Logger:   deps.logger.Named("mcp"),
		Metadata: deps.metadata,
	}, deps.repos, deps.indexer, deps.retriever)
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
