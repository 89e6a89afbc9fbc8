// Package retrieval answers free-text questions about an indexed repository
// with the most similar chunks that fit a token budget.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repolens/internal/chunker"
	"github.com/fyrsmithlabs/repolens/internal/logging"
	"github.com/fyrsmithlabs/repolens/internal/tokens"
	"github.com/fyrsmithlabs/repolens/internal/vectorstore"
)

const (
	DefaultLimit = 5
	MinLimit     = 3
	MaxLimit     = 15
)

var tracer = otel.Tracer("repolens.retrieval")

// QueryEmbedder embeds a single query text.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ValidationError reports a malformed request. It is returned before any I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Request is a retrieval query. Limit zero means DefaultLimit. A nil
// MaxTokens disables the budget.
type Request struct {
	Query          string
	RepositoryID   string
	Limit          int
	ScoreThreshold *float32
	MaxTokens      *int
}

// Metadata is the stored chunk payload without its content.
type Metadata struct {
	RepositoryID  string `json:"repositoryId"`
	RepositoryURL string `json:"repositoryUrl"`
	FilePath      string `json:"filePath"`
	FileExtension string `json:"fileExtension"`
	ChunkIndex    int    `json:"chunkIndex"`
	Type          string `json:"type"`
	TokenCount    int    `json:"tokenCount"`
	Language      string `json:"language,omitempty"`
}

// Source is one retrieved chunk.
type Source struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Score    float32  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Response holds sources in similarity order.
type Response struct {
	Query   string   `json:"query"`
	Sources []Source `json:"sources"`
}

// Option configures a Service.
type Option func(*Service)

// WithEstimator replaces the heuristic token estimator.
func WithEstimator(e tokens.Estimator) Option {
	return func(s *Service) {
		if e != nil {
			s.estimator = e
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service runs retrieval queries.
type Service struct {
	embedder  QueryEmbedder
	store     vectorstore.Store
	estimator tokens.Estimator
	logger    *logging.Logger
}

// NewService creates a Service.
func NewService(embedder QueryEmbedder, store vectorstore.Store, opts ...Option) (*Service, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	s := &Service{
		embedder:  embedder,
		store:     store,
		estimator: tokens.Heuristic,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ClampLimit applies the default and bounds the result count to [3, 15].
func ClampLimit(limit int) int {
	if limit == 0 {
		limit = DefaultLimit
	}
	return max(MinLimit, min(MaxLimit, limit))
}

func validate(req Request) error {
	switch {
	case strings.TrimSpace(req.Query) == "":
		return &ValidationError{Field: "query", Reason: "must not be empty"}
	case req.RepositoryID == "":
		return &ValidationError{Field: "repositoryId", Reason: "must not be empty"}
	case req.ScoreThreshold != nil && (*req.ScoreThreshold < 0 || *req.ScoreThreshold > 1):
		return &ValidationError{Field: "scoreThreshold", Reason: "must be between 0 and 1"}
	case req.MaxTokens != nil && *req.MaxTokens < 0:
		return &ValidationError{Field: "maxTokens", Reason: "must not be negative"}
	case req.Limit < 0:
		return &ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	return nil
}

// Query embeds the query, searches the repository and packs results into
// the token budget in similarity order. A result that would overflow the
// budget is skipped and later smaller results may still fit.
//
// An embedding failure yields an empty response rather than an error.
// Search failures are returned.
func (s *Service) Query(ctx context.Context, req Request) (*Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "Retrieval.Query")
	defer span.End()
	limit := ClampLimit(req.Limit)
	span.SetAttributes(
		attribute.String("repository_id", req.RepositoryID),
		attribute.Int("limit", limit),
	)

	resp := &Response{Query: req.Query, Sources: []Source{}}

	embedding, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		s.logger.Warn(ctx, "query embedding failed, returning no sources",
			zap.String("repository_id", req.RepositoryID),
			zap.Error(err),
		)
		span.RecordError(err)
		return resp, nil
	}
	if len(embedding) == 0 {
		return resp, nil
	}

	results, err := s.store.SearchVectors(ctx, embedding, vectorstore.SearchFilter{RepositoryID: req.RepositoryID}, limit, req.ScoreThreshold)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching repository %s: %w", req.RepositoryID, err)
	}

	used := 0
	for _, r := range results {
		src, err := toSource(r)
		if err != nil {
			s.logger.Warn(ctx, "skipping result with unreadable payload",
				zap.String("id", r.ID),
				zap.Error(err),
			)
			continue
		}
		cost := s.estimator.Estimate(src.Content)
		if req.MaxTokens != nil && used+cost > *req.MaxTokens {
			continue
		}
		used += cost
		resp.Sources = append(resp.Sources, src)
	}

	span.SetAttributes(
		attribute.Int("results_count", len(results)),
		attribute.Int("sources_count", len(resp.Sources)),
		attribute.Int("tokens_used", used),
	)
	s.logger.Debug(ctx, "retrieval query complete",
		zap.String("repository_id", req.RepositoryID),
		zap.Int("results", len(results)),
		zap.Int("sources", len(resp.Sources)),
		zap.Int("tokens", used),
	)
	return resp, nil
}

func toSource(r vectorstore.SearchResult) (Source, error) {
	c, err := chunker.FromPayload(r.Payload)
	if err != nil {
		return Source{}, err
	}
	return Source{
		ID:      r.ID,
		Content: c.Content,
		Score:   r.Score,
		Metadata: Metadata{
			RepositoryID:  c.RepositoryID,
			RepositoryURL: c.RepositoryURL,
			FilePath:      c.FilePath,
			FileExtension: c.FileExtension,
			ChunkIndex:    c.ChunkIndex,
			Type:          string(c.Type),
			TokenCount:    c.TokenCount,
			Language:      c.Language,
		},
	}, nil
}

// MergeSources concatenates lists and removes later duplicates of the same
// (filePath, chunkIndex), keeping first-seen order.
func MergeSources(lists ...[]Source) []Source {
	type key struct {
		path  string
		index int
	}
	seen := make(map[key]struct{})
	merged := []Source{}
	for _, list := range lists {
		for _, src := range list {
			k := key{src.Metadata.FilePath, src.Metadata.ChunkIndex}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			merged = append(merged, src)
		}
	}
	return merged
}
