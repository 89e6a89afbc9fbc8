package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repolens/internal/chunker"
	"github.com/fyrsmithlabs/repolens/internal/config"
	"github.com/fyrsmithlabs/repolens/internal/embeddings"
	"github.com/fyrsmithlabs/repolens/internal/events"
	"github.com/fyrsmithlabs/repolens/internal/fetcher"
	"github.com/fyrsmithlabs/repolens/internal/github"
	"github.com/fyrsmithlabs/repolens/internal/indexer"
	"github.com/fyrsmithlabs/repolens/internal/logging"
	"github.com/fyrsmithlabs/repolens/internal/repository"
	"github.com/fyrsmithlabs/repolens/internal/retrieval"
	"github.com/fyrsmithlabs/repolens/internal/secrets"
	"github.com/fyrsmithlabs/repolens/internal/telemetry"
	"github.com/fyrsmithlabs/repolens/internal/tokens"
	"github.com/fyrsmithlabs/repolens/internal/vectorstore"
)

// dependencies holds the wired services and the resources they own.
type dependencies struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	repos     repository.Store
	store     vectorstore.Store
	metadata  github.MetadataProvider
	publisher *events.Publisher
	indexer   *indexer.Indexer
	retriever *retrieval.Service

	closers []func() error
}

// depsOptions tweak wiring per command.
type depsOptions struct {
	// stderrLogs keeps stdout clean for the MCP stdio transport.
	stderrLogs bool
	registerer prometheus.Registerer
}

// initLogger builds the zap-backed logger from the log section.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry, stderr bool) (*logging.Logger, error) {
	logCfg, err := logging.FromConfig(cfg.Log)
	if err != nil {
		return nil, err
	}
	if stderr {
		logCfg.Output.Stdout = false
		logCfg.Output.Stderr = true
	}
	lp := tel.LoggerProvider()
	logCfg.Output.OTEL = lp != nil

	return logging.NewLogger(logCfg, lp)
}

// initDependencies wires every service in dependency order:
//  1. Telemetry and logger
//  2. Vector store (Qdrant or chromem)
//  3. Embedding provider and batching service
//  4. Repository store (memory or Postgres)
//  5. GitHub metadata, NATS events and the clone fetcher
//  6. Token estimator shared by the chunker and retrieval
//  7. Indexer and retrieval services
//
// On error everything opened so far is closed.
func initDependencies(ctx context.Context, cfg *config.Config, opts depsOptions) (_ *dependencies, err error) {
	d := &dependencies{cfg: cfg}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	d.telemetry, err = telemetry.New(ctx, telemetry.FromConfig(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	d.closers = append(d.closers, func() error { return d.telemetry.Shutdown(context.Background()) })

	d.logger, err = initLogger(cfg, d.telemetry, opts.stderrLogs)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	if health := d.telemetry.Health(); health.Degraded {
		d.logger.Warn(ctx, "telemetry degraded, exporting disabled", zap.String("error", health.Error))
	}

	d.store, err = vectorstore.NewStore(cfg, d.logger.Named("vectorstore"))
	if err != nil {
		return nil, fmt.Errorf("initializing vector store: %w", err)
	}
	d.closers = append(d.closers, d.store.Close)

	provider, err := embeddings.NewProvider(cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("initializing embedding provider: %w", err)
	}
	embedder, err := embeddings.NewService(provider, embeddings.Config{
		BatchSize: cfg.Embeddings.BatchSize,
		Dimension: cfg.Embeddings.Dimension,
	}, d.logger.Named("embeddings"))
	if err != nil {
		return nil, fmt.Errorf("initializing embeddings: %w", err)
	}

	if err := d.initRepositoryStore(ctx); err != nil {
		return nil, err
	}

	d.metadata, err = github.NewFromConfig(ctx, cfg.GitHub, d.logger)
	if err != nil {
		return nil, fmt.Errorf("initializing github client: %w", err)
	}

	var sink events.Sink = events.Nop{}
	if cfg.NATS.URL != "" {
		d.publisher, err = events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, d.logger.Named("events"))
		if err != nil {
			return nil, fmt.Errorf("connecting to nats: %w", err)
		}
		d.closers = append(d.closers, d.publisher.Close)
		sink = d.publisher
	}

	estimator, err := tokens.New(cfg.Tokens.Estimator)
	if err != nil {
		return nil, fmt.Errorf("initializing token estimator: %w", err)
	}

	registerer := opts.registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	ixOpts := []indexer.Option{
		indexer.WithChunker(chunker.New(chunker.WithEstimator(estimator))),
		indexer.WithEvents(sink),
		indexer.WithMetrics(indexer.NewMetrics(registerer)),
		indexer.WithLogger(d.logger.Named("indexer")),
		indexer.WithIgnore(!cfg.Indexing.SkipGitignore, cfg.Indexing.ExtraIgnore),
		indexer.WithLockTimeout(cfg.Indexing.LockTimeout.Duration()),
	}
	if cfg.Indexing.RedactSecrets {
		allowlist, err := secrets.LoadAllowlist(cfg.Indexing.AllowlistPath)
		if err != nil {
			return nil, fmt.Errorf("loading secrets allowlist: %w", err)
		}
		redactor, err := secrets.NewRedactor(allowlist)
		if err != nil {
			return nil, fmt.Errorf("initializing secret redaction: %w", err)
		}
		ixOpts = append(ixOpts, indexer.WithRedactor(redactor))
	}

	cloner := fetcher.New(cfg.Indexing.ScratchRoot, d.logger.Named("fetcher"))
	d.indexer, err = indexer.New(d.repos, cloner, embedder, d.store, ixOpts...)
	if err != nil {
		return nil, fmt.Errorf("initializing indexer: %w", err)
	}

	d.retriever, err = retrieval.NewService(embedder, d.store,
		retrieval.WithEstimator(estimator),
		retrieval.WithLogger(d.logger.Named("retrieval")),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing retrieval: %w", err)
	}

	d.logger.Info(ctx, "dependencies initialized",
		zap.String("vector_store", cfg.VectorStore.Provider),
		zap.String("store", cfg.Store.Backend),
		zap.String("embedding_model", provider.Model()),
		zap.Bool("events", d.publisher != nil),
		zap.Bool("redact_secrets", cfg.Indexing.RedactSecrets),
		zap.Bool("telemetry", d.telemetry.IsEnabled()),
	)
	return d, nil
}

func (d *dependencies) initRepositoryStore(ctx context.Context) error {
	switch d.cfg.Store.Backend {
	case config.StorePostgres:
		pg, err := repository.NewPostgresStore(ctx, d.cfg.Store.PostgresDSN.Value())
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		d.closers = append(d.closers, func() error { pg.Close(); return nil })
		d.repos = pg
	default:
		d.repos = repository.NewMemoryStore()
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (d *dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	if d.logger != nil {
		_ = d.logger.Sync()
	}
	return errors.Join(errs...)
}
