package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repolens/internal/embeddings"
	"github.com/fyrsmithlabs/repolens/internal/fetcher"
	"github.com/fyrsmithlabs/repolens/internal/github"
	"github.com/fyrsmithlabs/repolens/internal/indexer"
	"github.com/fyrsmithlabs/repolens/internal/repository"
	"github.com/fyrsmithlabs/repolens/internal/retrieval"
	"github.com/fyrsmithlabs/repolens/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/repolens/internal/mcp"

// Indexing runs inside a tool call, so the buckets reach into minutes.
var toolDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10, 30, 120, 600}

// Metrics records per-tool call counts, latency, failures and concurrency.
// Instruments that fail to register are left nil and skipped.
type Metrics struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewMetrics registers the tool instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	var (
		m    Metrics
		errs []error
		err  error
	)
	m.calls, err = meter.Int64Counter("repolens.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool invocations"),
		metric.WithUnit("{invocation}"))
	errs = append(errs, err)

	m.failures, err = meter.Int64Counter("repolens.mcp.tool.errors_total",
		metric.WithDescription("MCP tool invocations that returned an error"),
		metric.WithUnit("{error}"))
	errs = append(errs, err)

	m.latency, err = meter.Float64Histogram("repolens.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool invocation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(toolDurationBuckets...))
	errs = append(errs, err)

	m.inFlight, err = meter.Int64UpDownCounter("repolens.mcp.tool.active_requests",
		metric.WithDescription("MCP tool invocations in progress"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil && logger != nil {
		logger.Warn("some mcp instruments are unavailable", zap.Error(err))
	}
	return &m
}

// Start marks a call to tool as in flight. The returned func ends it and
// records the outcome.
func (m *Metrics) Start(ctx context.Context, tool string) func(err error) {
	began := time.Now()
	byTool := metric.WithAttributes(attribute.String("tool", tool))
	if m.inFlight != nil {
		m.inFlight.Add(ctx, 1, byTool)
	}

	return func(err error) {
		if m.inFlight != nil {
			m.inFlight.Add(ctx, -1, byTool)
		}
		if m.calls != nil {
			m.calls.Add(ctx, 1, byTool)
		}
		if m.latency != nil {
			m.latency.Record(ctx, time.Since(began).Seconds(), byTool)
		}
		if err != nil && m.failures != nil {
			m.failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("reason", errorReason(err)),
			))
		}
	}
}

// errorReason maps err to a low-cardinality label.
func errorReason(err error) string {
	var (
		queryErr *retrieval.ValidationError
		indexErr *indexer.ValidationError
		urlErr   *fetcher.ValidationError
		conflict *indexer.ConflictError
		cloneErr *fetcher.CloneError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &queryErr), errors.As(err, &indexErr), errors.As(err, &urlErr):
		return "validation_error"
	case errors.As(err, &conflict), errors.Is(err, repository.ErrIndexingInProgress):
		return "conflict"
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, github.ErrRepositoryNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &cloneErr):
		return "clone_error"
	case errors.Is(err, vectorstore.ErrVectorStore):
		return "storage_error"
	case errors.Is(err, embeddings.ErrProviderFailed), errors.Is(err, embeddings.ErrDimensionMismatch):
		return "embedding_error"
	}
	return "internal_error"
}
