// Package embeddings turns chunk text into fixed-dimension vectors.
//
// Service enforces batching, ordering and dimension checks on top of a
// Provider. Providers talk to OpenAI directly (openai-go) or to any
// OpenAI-compatible endpoint (langchaingo).
package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repolens/internal/logging"
)

// Defaults for text-embedding-3-small.
const (
	DefaultBatchSize = 96
	DefaultDimension = 1536
)

// Provider generates one vector per input text, in order.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Config holds Service settings.
type Config struct {
	BatchSize int
	Dimension int
}

// Service batches texts through a Provider and validates the results.
type Service struct {
	provider  Provider
	batchSize int
	dimension int
	metrics   *Metrics
	logger    *logging.Logger
}

// NewService wraps provider. Zero config values take the defaults.
func NewService(provider Provider, cfg Config, logger *logging.Logger) (*Service, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidConfig)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.BatchSize < 0 || cfg.Dimension < 0 {
		return nil, fmt.Errorf("%w: batch size and dimension must be positive", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		provider:  provider,
		batchSize: cfg.BatchSize,
		dimension: cfg.Dimension,
		metrics:   NewMetrics(logger.Underlying()),
		logger:    logger,
	}, nil
}

// Dimension returns the expected vector length.
func (s *Service) Dimension() int {
	return s.dimension
}

// Model returns the provider's model name.
func (s *Service) Model() string {
	return s.provider.Model()
}

// Embed trims the texts, drops empty ones and embeds the rest in sequential
// batches. The result has one vector per remaining text, in input order.
// Any provider failure or wrongly sized vector fails the whole call.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	inputs := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			inputs = append(inputs, t)
		}
	}
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(inputs))
	for start, batch := 0, 0; start < len(inputs); start, batch = start+s.batchSize, batch+1 {
		end := min(start+s.batchSize, len(inputs))
		vectors, err := s.embedBatch(ctx, "embed", inputs[start:end], start, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}

	s.logger.Debug(ctx, "embedded texts",
		zap.Int("count", len(out)),
		zap.Int("batches", (len(inputs)+s.batchSize-1)/s.batchSize),
		zap.String("model", s.provider.Model()))
	return out, nil
}

// EmbedQuery embeds a single text. An empty text yields a nil vector.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	vectors, err := s.embedBatch(ctx, "embed_query", []string{text}, 0, 0)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *Service) embedBatch(ctx context.Context, op string, texts []string, offset, batch int) (vectors [][]float32, err error) {
	model := s.provider.Model()
	start := time.Now()
	defer func() {
		s.metrics.RecordGeneration(ctx, model, op, time.Since(start), len(texts), err)
	}()

	vectors, err = s.provider.Embed(ctx, texts)
	if err != nil {
		return nil, &ProviderError{Model: model, Batch: batch, Err: err}
	}
	if len(vectors) != len(texts) {
		return nil, &ProviderError{
			Model: model,
			Batch: batch,
			Err:   fmt.Errorf("got %d vectors for %d inputs", len(vectors), len(texts)),
		}
	}
	for i, v := range vectors {
		if len(v) != s.dimension {
			return nil, &DimensionMismatchError{Index: offset + i, Expected: s.dimension, Got: len(v)}
		}
	}
	return vectors, nil
}
