// Package indexer runs the indexing pipeline for a repository and owns its
// status transitions.
//
// A run moves the repository record from indexing to indexed, or to
// failed:<reason> when any stage fails:
//
//  1. upsert the record by URL with status indexing
//  2. shallow-clone into a fresh scratch directory
//  3. walk and chunk every eligible file
//  4. embed every chunk in order
//  5. upsert the vectors
//  6. mark indexed with the number of vectors written
//
// The scratch directory is removed whatever the outcome. Re-indexing keeps
// the record ID and does not delete earlier vectors; callers wanting a clean
// index call DeleteRepositoryFromVectorStore first.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repolens/internal/chunker"
	"github.com/fyrsmithlabs/repolens/internal/events"
	"github.com/fyrsmithlabs/repolens/internal/fetcher"
	"github.com/fyrsmithlabs/repolens/internal/ignore"
	"github.com/fyrsmithlabs/repolens/internal/logging"
	"github.com/fyrsmithlabs/repolens/internal/repository"
	"github.com/fyrsmithlabs/repolens/internal/secrets"
	"github.com/fyrsmithlabs/repolens/internal/vectorstore"
	"github.com/fyrsmithlabs/repolens/internal/walker"
)

var tracer = otel.Tracer("repolens.indexer")

// Cloner produces a working copy of a repository.
type Cloner interface {
	Clone(ctx context.Context, url, branch string) (*fetcher.Checkout, error)
}

// Embedder embeds texts, one vector per input in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Redactor removes secrets from file content before it is chunked.
type Redactor interface {
	Redact(path, content string) secrets.Result
}

// Request starts an indexing run.
type Request struct {
	RepoURL string
	// Branch to clone. Empty selects the remote's default branch.
	Branch   string
	Metadata repository.Metadata
}

// Result is a successful run.
type Result struct {
	Repository    *repository.Repository
	ChunksIndexed int
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithChunker replaces the default chunker.
func WithChunker(c *chunker.Chunker) Option {
	return func(ix *Indexer) { ix.chunker = c }
}

// WithEvents publishes every status transition to sink.
func WithEvents(sink events.Sink) Option {
	return func(ix *Indexer) { ix.events = sink }
}

// WithRedactor redacts secrets from every file before chunking.
func WithRedactor(r Redactor) Option {
	return func(ix *Indexer) { ix.redactor = r }
}

// WithMetrics records run metrics.
func WithMetrics(m *Metrics) Option {
	return func(ix *Indexer) { ix.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(ix *Indexer) { ix.logger = l }
}

// WithIgnore controls whether the clone's .gitignore is honoured and adds
// extra gitignore-style patterns.
func WithIgnore(useGitignore bool, extra []string) Option {
	return func(ix *Indexer) {
		ix.useGitignore = useGitignore
		ix.extraIgnore = extra
	}
}

// WithLockTimeout enables the store-level lock: a run is rejected while
// another run, possibly in another process, marked the record indexing less
// than d ago.
func WithLockTimeout(d time.Duration) Option {
	return func(ix *Indexer) { ix.lockTimeout = d }
}

// Indexer runs indexing pipelines. It is safe for concurrent use; runs for
// different URLs proceed in parallel and a second run for a URL already
// being indexed is rejected with *ConflictError.
type Indexer struct {
	repos    repository.Store
	cloner   Cloner
	embedder Embedder
	store    vectorstore.Store

	chunker      *chunker.Chunker
	events       events.Sink
	redactor     Redactor
	metrics      *Metrics
	logger       *logging.Logger
	useGitignore bool
	extraIgnore  []string
	lockTimeout  time.Duration
	now          func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates an Indexer.
func New(repos repository.Store, cloner Cloner, embedder Embedder, store vectorstore.Store, opts ...Option) (*Indexer, error) {
	if repos == nil {
		return nil, errors.New("repository store is required")
	}
	if cloner == nil {
		return nil, errors.New("cloner is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if store == nil {
		return nil, errors.New("vector store is required")
	}

	ix := &Indexer{
		repos:        repos,
		cloner:       cloner,
		embedder:     embedder,
		store:        store,
		chunker:      chunker.New(),
		events:       events.Nop{},
		logger:       logging.Nop(),
		useGitignore: true,
		now:          time.Now,
		inflight:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.logger = ix.logger.Named("indexer")
	return ix, nil
}

// IndexPublicRepository runs the full pipeline for req. On failure the
// record is marked failed with the error message and the error is returned.
func (ix *Indexer) IndexPublicRepository(ctx context.Context, req Request) (*Result, error) {
	meta, err := req.normalize()
	if err != nil {
		return nil, err
	}

	release, ok := ix.acquire(meta.URL)
	if !ok {
		ix.metrics.conflict()
		return nil, &ConflictError{URL: meta.URL}
	}
	defer release()

	ctx = logging.WithRunID(ctx, uuid.NewString())
	ctx, span := tracer.Start(ctx, "indexer.IndexPublicRepository", trace.WithAttributes(
		attribute.String("repository.url", meta.URL),
		attribute.String("repository.branch", req.Branch),
	))
	defer span.End()

	repo, err := ix.begin(ctx, meta)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	ctx = logging.WithRepositoryID(ctx, repo.ID)
	span.SetAttributes(attribute.String("repository.id", repo.ID))

	start := ix.now()
	ix.metrics.started()
	ix.publish(ctx, repo)
	ix.logger.Info(ctx, "indexing started",
		zap.String("url", meta.URL),
		zap.String("branch", req.Branch),
	)

	count, err := ix.run(ctx, repo, strings.TrimSpace(req.RepoURL), req.Branch)
	if err != nil {
		ix.metrics.finished(outcomeFailed, ix.now().Sub(start), 0)
		ix.fail(ctx, repo, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	indexed, err := ix.repos.MarkIndexed(ctx, repo.ID, count, ix.now())
	if err != nil {
		err = fmt.Errorf("recording index result: %w", err)
		ix.metrics.finished(outcomeFailed, ix.now().Sub(start), 0)
		ix.fail(ctx, repo, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	duration := ix.now().Sub(start)
	ix.metrics.finished(outcomeIndexed, duration, count)
	ix.publish(ctx, indexed)
	span.SetAttributes(attribute.Int("chunks.indexed", count))
	ix.logger.Info(ctx, "indexing complete",
		zap.Int("chunks_indexed", count),
		zap.Duration("duration", duration),
	)

	return &Result{Repository: indexed, ChunksIndexed: count}, nil
}

// Register records a repository without indexing it. The record starts as
// indexed with zero chunks, the same state a deleted index leaves behind.
// A URL that is already registered yields repository.ErrAlreadyExists.
func (ix *Indexer) Register(ctx context.Context, req Request) (*repository.Repository, error) {
	meta, err := req.normalize()
	if err != nil {
		return nil, err
	}
	if meta.DefaultBranch == "" {
		meta.DefaultBranch = strings.TrimSpace(req.Branch)
	}

	release, ok := ix.acquire(meta.URL)
	if !ok {
		return nil, &ConflictError{URL: meta.URL}
	}
	defer release()

	repo, err := ix.repos.Create(ctx, meta, repository.StatusIndexed)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithRepositoryID(ctx, repo.ID)
	ix.publish(ctx, repo)
	ix.logger.Info(ctx, "repository registered", zap.String("url", meta.URL))
	return repo, nil
}

// Reindex indexes an existing record again using its stored URL and
// metadata. An empty branch falls back to the recorded default branch.
func (ix *Indexer) Reindex(ctx context.Context, id, branch string) (*Result, error) {
	repo, err := ix.repos.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if branch == "" {
		branch = repo.DefaultBranch
	}
	return ix.IndexPublicRepository(ctx, Request{
		RepoURL:  repo.URL,
		Branch:   branch,
		Metadata: repo.Metadata,
	})
}

// DeleteRepositoryFromVectorStore removes every vector of the repository and
// records an empty index. It is rejected while the repository is being
// indexed in this process.
func (ix *Indexer) DeleteRepositoryFromVectorStore(ctx context.Context, id string) (*repository.Repository, error) {
	repo, err := ix.repos.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	release, ok := ix.acquire(repo.URL)
	if !ok {
		return nil, &ConflictError{URL: repo.URL}
	}
	defer release()

	ctx = logging.WithRepositoryID(ctx, repo.ID)
	ctx, span := tracer.Start(ctx, "indexer.DeleteRepositoryFromVectorStore",
		trace.WithAttributes(attribute.String("repository.id", repo.ID)))
	defer span.End()

	if err := ix.store.DeleteVectorsByRepository(ctx, repo.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	reset, err := ix.repos.ResetIndex(ctx, repo.ID)
	if err != nil {
		return nil, fmt.Errorf("recording index reset: %w", err)
	}
	ix.logger.Info(ctx, "repository vectors deleted", zap.Int("previous_chunks", repo.ChunksIndexed))
	return reset, nil
}

// run executes steps 2 to 5 and returns the number of vectors written.
func (ix *Indexer) run(ctx context.Context, repo *repository.Repository, url, branch string) (int, error) {
	checkout, err := ix.cloner.Clone(ctx, url, branch)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := checkout.Cleanup(); err != nil {
			ix.logger.Warn(ctx, "failed to remove scratch clone", zap.String("dir", checkout.Path), zap.Error(err))
		}
	}()

	chunks, err := ix.collect(ctx, repo, checkout.Path)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		ix.logger.Info(ctx, "no indexable content found")
		return 0, nil
	}

	vectors, err := ix.embedder.Embed(ctx, chunker.Texts(chunks))
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedding returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectorstore.Point{Vector: vectors[i], Payload: c.Payload()}
	}
	ids, err := ix.store.UpsertVectors(ctx, points)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// collect walks the checkout and chunks every file in walk order.
func (ix *Indexer) collect(ctx context.Context, repo *repository.Repository, root string) ([]chunker.Chunk, error) {
	matcher, err := ignore.ForProject(root, ix.useGitignore, ix.extraIgnore)
	if err != nil {
		return nil, fmt.Errorf("reading ignore files: %w", err)
	}
	files, err := walker.New(ix.logger, walker.WithMatcher(matcher)).Walk(ctx, root)
	if err != nil {
		return nil, err
	}

	if ix.redactor != nil {
		redacted := 0
		for i := range files {
			res := ix.redactor.Redact(files[i].Path, files[i].Content)
			if res.Redacted() {
				files[i].Content = res.Content
				redacted += len(res.Findings)
			}
		}
		if redacted > 0 {
			ix.logger.Info(ctx, "secrets redacted before embedding", zap.Int("findings", redacted))
		}
	}

	chunks, err := ix.chunker.ChunkFiles(repo.ID, repo.URL, files)
	if err != nil {
		return nil, err
	}
	ix.logger.Debug(ctx, "repository chunked", zap.Int("files", len(files)), zap.Int("chunks", len(chunks)))
	return chunks, nil
}

func (ix *Indexer) begin(ctx context.Context, meta repository.Metadata) (*repository.Repository, error) {
	if ix.lockTimeout <= 0 {
		repo, err := ix.repos.UpsertByURL(ctx, meta, repository.StatusIndexing)
		if err != nil {
			return nil, fmt.Errorf("recording repository: %w", err)
		}
		return repo, nil
	}

	repo, err := ix.repos.TryBeginIndexing(ctx, meta, ix.lockTimeout)
	if errors.Is(err, repository.ErrIndexingInProgress) {
		ix.metrics.conflict()
		return nil, &ConflictError{URL: meta.URL}
	}
	if err != nil {
		return nil, fmt.Errorf("recording repository: %w", err)
	}
	return repo, nil
}

// fail records the failure. The caller's context may already be done, so
// the write is detached from its cancellation.
func (ix *Indexer) fail(ctx context.Context, repo *repository.Repository, cause error) {
	ix.logger.Error(ctx, "indexing failed", zap.Error(cause))

	ctx = context.WithoutCancel(ctx)
	failed, err := ix.repos.MarkFailed(ctx, repo.ID, cause.Error())
	if err != nil {
		ix.logger.Error(ctx, "failed to record indexing failure", zap.Error(err))
		return
	}
	ix.publish(ctx, failed)
}

func (ix *Indexer) publish(ctx context.Context, repo *repository.Repository) {
	if err := ix.events.Publish(ctx, events.FromRepository(repo, ix.now())); err != nil {
		ix.logger.Debug(ctx, "status event dropped", zap.Error(err))
	}
}

// acquire claims url for this process. The returned func releases it.
func (ix *Indexer) acquire(url string) (func(), bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, busy := ix.inflight[url]; busy {
		return nil, false
	}
	ix.inflight[url] = struct{}{}
	return func() {
		ix.mu.Lock()
		delete(ix.inflight, url)
		ix.mu.Unlock()
	}, true
}

func (r Request) normalize() (repository.Metadata, error) {
	url := strings.TrimSpace(r.RepoURL)
	if url == "" {
		return repository.Metadata{}, &ValidationError{Field: "repoUrl", Reason: "is required"}
	}
	meta := r.Metadata
	if meta.URL == "" {
		meta.URL = url
	}
	if meta.Name == "" || meta.Owner == "" {
		if coords, err := fetcher.ParseGitHubURL(meta.URL); err == nil {
			if meta.Name == "" {
				meta.Name = coords.Name
			}
			if meta.Owner == "" {
				meta.Owner = coords.Owner
			}
		}
	}
	if meta.Stars < 0 {
		return repository.Metadata{}, &ValidationError{Field: "metadata.stars", Reason: "must not be negative"}
	}
	return meta, nil
}
