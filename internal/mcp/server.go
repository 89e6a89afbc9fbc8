package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/repolens/internal/github"
	"github.com/fyrsmithlabs/repolens/internal/indexer"
	"github.com/fyrsmithlabs/repolens/internal/logging"
	"github.com/fyrsmithlabs/repolens/internal/repository"
	"github.com/fyrsmithlabs/repolens/internal/retrieval"
)

// Repositories reads repository records.
type Repositories interface {
	Get(ctx context.Context, id string) (*repository.Repository, error)
	List(ctx context.Context) ([]*repository.Repository, error)
}

// Indexer runs and clears repository indexes.
type Indexer interface {
	IndexPublicRepository(ctx context.Context, req indexer.Request) (*indexer.Result, error)
	Register(ctx context.Context, req indexer.Request) (*repository.Repository, error)
	DeleteRepositoryFromVectorStore(ctx context.Context, id string) (*repository.Repository, error)
}

// Retriever answers queries against indexed repositories.
type Retriever interface {
	Query(ctx context.Context, req retrieval.Request) (*retrieval.Response, error)
	OnboardingContext(ctx context.Context, repositoryID string) (*retrieval.Context, error)
}

// Server is an MCP server backed by the indexer and retrieval services.
type Server struct {
	mcp          *mcp.Server
	repositories Repositories
	indexer      Indexer
	retriever    Retriever
	metadata     github.MetadataProvider
	metrics      *Metrics
	logger       *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "repolens")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *logging.Logger

	// Metadata resolves repository metadata for repository_index and
	// repository_create.
	// Default: github.Static
	Metadata github.MetadataProvider
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:     "repolens",
		Version:  "dev",
		Logger:   logging.Nop(),
		Metadata: github.Static{},
	}
}

// NewServer creates a new MCP server with the given services.
func NewServer(cfg *Config, repositories Repositories, idx Indexer, retriever Retriever) (*Server, error) {
	defaults := DefaultConfig()
	if cfg == nil {
		cfg = defaults
	}
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}
	if cfg.Metadata == nil {
		cfg.Metadata = defaults.Metadata
	}
	if repositories == nil {
		return nil, fmt.Errorf("repository store is required")
	}
	if idx == nil {
		return nil, fmt.Errorf("indexer is required")
	}
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	logger := cfg.Logger.Named("mcp")
	s := &Server{
		mcp:          mcpServer,
		repositories: repositories,
		indexer:      idx,
		retriever:    retriever,
		metadata:     cfg.Metadata,
		metrics:      NewMetrics(logger.Underlying()),
		logger:       logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect starts a session on an arbitrary transport.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
