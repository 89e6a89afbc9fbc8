// Package http serves the repolens HTTP API.
//
// Routes:
//
//	GET    /health
//	GET    /metrics
//	GET    /api/v1/repositories
//	POST   /api/v1/repositories
//	POST   /api/v1/repositories/register
//	GET    /api/v1/repositories/:id
//	POST   /api/v1/repositories/:id/index
//	DELETE /api/v1/repositories/:id/index
//	POST   /api/v1/repositories/:id/query
//	POST   /api/v1/repositories/:id/chat-context
//	GET    /api/v1/repositories/:id/onboarding-context
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

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

// Indexer registers repositories and runs and clears their indexes.
type Indexer interface {
	IndexPublicRepository(ctx context.Context, req indexer.Request) (*indexer.Result, error)
	Reindex(ctx context.Context, id, branch string) (*indexer.Result, error)
	Register(ctx context.Context, req indexer.Request) (*repository.Repository, error)
	DeleteRepositoryFromVectorStore(ctx context.Context, id string) (*repository.Repository, error)
}

// Retriever answers queries against indexed repositories.
type Retriever interface {
	Query(ctx context.Context, req retrieval.Request) (*retrieval.Response, error)
	OnboardingContext(ctx context.Context, repositoryID string) (*retrieval.Context, error)
	ChatContext(ctx context.Context, repositoryID, query string, promptTokens int) (*retrieval.Context, error)
}

// Deps are the services behind the API.
type Deps struct {
	Repositories Repositories
	Indexer      Indexer
	Retriever    Retriever

	// Metadata resolves repository metadata. Defaults to github.Static.
	Metadata github.MetadataProvider

	// Gatherer serves /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Metrics records otel HTTP metrics when set.
	Metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides the HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config *Config
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Repositories == nil || deps.Indexer == nil || deps.Retriever == nil {
		return nil, errors.New("repositories, indexer and retriever are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9090,
		}
	}
	if deps.Metadata == nil {
		deps.Metadata = github.Static{}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger.Named("http"),
		config: cfg,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	if deps.Metrics != nil {
		e.Use(deps.Metrics.Middleware())
	}
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

// requestLogger puts the request id on the context and logs every request.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(c.Request().Context(), requestID)
		c.SetRequest(c.Request().WithContext(ctx))

		err := next(c)

		status := c.Response().Status
		if err != nil && !c.Response().Committed {
			status = statusFor(err)
		}
		s.logger.Info(ctx, "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/repositories", s.handleList)
	v1.POST("/repositories", s.handleIndex)
	v1.POST("/repositories/register", s.handleRegister)
	v1.GET("/repositories/:id", s.handleGet)
	v1.POST("/repositories/:id/index", s.handleReindex)
	v1.DELETE("/repositories/:id/index", s.handleDeleteIndex)
	v1.POST("/repositories/:id/query", s.handleQuery)
	v1.POST("/repositories/:id/chat-context", s.handleChatContext)
	v1.GET("/repositories/:id/onboarding-context", s.handleOnboardingContext)
}

// Echo exposes the router, mainly for tests and extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	if err := s.echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
