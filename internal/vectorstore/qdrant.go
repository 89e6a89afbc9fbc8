package vectorstore

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repolens/internal/logging"
	"github.com/fyrsmithlabs/repolens/internal/qdrant"
)

// QdrantConfig configures a QdrantStore.
type QdrantConfig struct {
	// Collection defaults to DefaultCollection.
	Collection string

	// Dimension defaults to DefaultDimension.
	Dimension int
}

// QdrantStore implements Store on a Qdrant collection.
type QdrantStore struct {
	client     qdrant.Client
	collection string
	dimension  int
	logger     *logging.Logger
	ensure     ensureOnce
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore wraps client. The collection is created lazily.
func NewQdrantStore(client qdrant.Client, cfg QdrantConfig, logger *logging.Logger) (*QdrantStore, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: qdrant client is required", ErrInvalidConfig)
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.Dimension < 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		logger:     logger,
	}, nil
}

// EnsureCollection implements Store. After the first success later calls
// return immediately; a failed attempt is retried on the next call.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	return s.ensure.Do(func() error {
		ctx, span := tracer.Start(ctx, "QdrantStore.EnsureCollection")
		defer span.End()
		span.SetAttributes(attribute.String("collection", s.collection))

		exists, err := s.client.CollectionExists(ctx, s.collection)
		if err != nil {
			return fail(span, "ensure collection", err)
		}
		if !exists {
			if err := s.client.CreateCollection(ctx, s.collection, uint64(s.dimension)); err != nil {
				return fail(span, "create collection", err)
			}
			s.logger.Info(ctx, "created vector collection",
				zap.String("collection", s.collection),
				zap.Int("dimension", s.dimension),
			)
		}
		for _, field := range IndexedFields {
			if err := s.client.CreateKeywordIndex(ctx, s.collection, field); err != nil {
				return fail(span, "create payload index", fmt.Errorf("%s: %w", field, err))
			}
		}

		span.SetStatus(codes.Ok, "ready")
		return nil
	})
}

// UpsertVectors implements Store.
func (s *QdrantStore) UpsertVectors(ctx context.Context, points []Point) ([]string, error) {
	if len(points) == 0 {
		return []string{}, nil
	}

	ctx, span := tracer.Start(ctx, "QdrantStore.UpsertVectors")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", s.collection),
		attribute.Int("point_count", len(points)),
	)

	prepared, ids, err := preparePoints(points, s.dimension)
	if err != nil {
		return nil, fail(span, "upsert", err)
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	qpoints := make([]*qdrant.Point, len(prepared))
	for i, p := range prepared {
		qpoints[i] = &qdrant.Point{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}
	if err := s.client.Upsert(ctx, s.collection, qpoints); err != nil {
		return nil, fail(span, "upsert", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug(ctx, "upserted vectors",
		zap.String("collection", s.collection),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

// SearchVectors implements Store. Malformed hits are dropped.
func (s *QdrantStore) SearchVectors(ctx context.Context, embedding []float32, filter SearchFilter, limit int, scoreThreshold *float32) ([]SearchResult, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.SearchVectors")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", s.collection),
		attribute.String("repository_id", filter.RepositoryID),
		attribute.Int("limit", limit),
	)

	if err := checkQuery(embedding, filter, limit, s.dimension); err != nil {
		return nil, fail(span, "search", err)
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	qfilter := qdrant.MatchAll(
		KeyRepositoryID, filter.RepositoryID,
		KeyFilePath, filter.FilePath,
		KeyType, filter.Type,
	)
	hits, err := s.client.Search(ctx, s.collection, embedding, uint64(limit), qfilter, scoreThreshold)
	if err != nil {
		return nil, fail(span, "search", err)
	}

	results := make([]SearchResult, 0, len(hits))
	dropped := 0
	for _, hit := range hits {
		if hit == nil {
			dropped++
			continue
		}
		r := SearchResult{ID: hit.ID, Score: hit.Score, Payload: hit.Payload}
		if !wellFormed(r, filter.RepositoryID) {
			dropped++
			continue
		}
		results = append(results, r)
	}
	if dropped > 0 {
		s.logger.Warn(ctx, "dropped malformed search results",
			zap.String("collection", s.collection),
			zap.Int("dropped", dropped),
		)
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// DeleteVectors implements Store.
func (s *QdrantStore) DeleteVectors(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteVectors")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}
	if err := s.client.Delete(ctx, s.collection, ids); err != nil {
		return fail(span, "delete", err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteVectorsByRepository implements Store. An empty id is a no-op.
func (s *QdrantStore) DeleteVectorsByRepository(ctx context.Context, repositoryID string) error {
	if repositoryID == "" {
		return nil
	}

	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteVectorsByRepository")
	defer span.End()
	span.SetAttributes(attribute.String("repository_id", repositoryID))

	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}
	if err := s.client.DeleteByFilter(ctx, s.collection, qdrant.MatchAll(KeyRepositoryID, repositoryID)); err != nil {
		return fail(span, "delete by repository", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Info(ctx, "deleted repository vectors",
		zap.String("collection", s.collection),
		zap.String("repository_id", repositoryID),
	)
	return nil
}

// Close closes the underlying client.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
