package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repolens/internal/logging"
)

// metaPayload holds the JSON-encoded payload; chromem metadata is string only.
const metaPayload = "payload"

var errNoEmbeddingFunc = errors.New("chromem store only accepts precomputed embeddings")

// ChromemConfig configures a ChromemStore.
type ChromemConfig struct {
	// Path persists the database as gob files. Empty keeps it in memory.
	Path string

	Compress bool

	// Collection defaults to DefaultCollection.
	Collection string

	// Dimension defaults to DefaultDimension.
	Dimension int
}

// ChromemStore implements Store on an embedded chromem-go database, for
// local runs without a Qdrant server.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	dimension  int
	logger     *logging.Logger
	ensure     ensureOnce
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore opens or creates the database.
func NewChromemStore(cfg ChromemConfig, logger *logging.Logger) (*ChromemStore, error) {
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

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem database: %w", err)
		}
	}

	return &ChromemStore{
		db:        db,
		name:      cfg.Collection,
		dimension: cfg.Dimension,
		logger:    logger,
	}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// EnsureCollection implements Store. chromem filters metadata without
// explicit indexes, so only the collection is created.
func (s *ChromemStore) EnsureCollection(ctx context.Context) error {
	return s.ensure.Do(func() error {
		_, span := tracer.Start(ctx, "ChromemStore.EnsureCollection")
		defer span.End()

		c, err := s.db.GetOrCreateCollection(s.name, nil, noEmbedding)
		if err != nil {
			return fail(span, "ensure collection", err)
		}
		s.collection = c
		span.SetStatus(codes.Ok, "ready")
		return nil
	})
}

// UpsertVectors implements Store. Documents with an existing ID are replaced.
func (s *ChromemStore) UpsertVectors(ctx context.Context, points []Point) ([]string, error) {
	if len(points) == 0 {
		return []string{}, nil
	}

	ctx, span := tracer.Start(ctx, "ChromemStore.UpsertVectors")
	defer span.End()
	span.SetAttributes(attribute.Int("point_count", len(points)))

	prepared, ids, err := preparePoints(points, s.dimension)
	if err != nil {
		return nil, fail(span, "upsert", err)
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	docs := make([]chromem.Document, len(prepared))
	for i, p := range prepared {
		meta, err := toMetadata(p.Payload)
		if err != nil {
			return nil, fail(span, "upsert", fmt.Errorf("point %d: %w", i, err))
		}
		content, _ := p.Payload[KeyContent].(string)
		docs[i] = chromem.Document{
			ID:        p.ID,
			Content:   content,
			Metadata:  meta,
			Embedding: p.Vector,
		}
	}

	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return nil, fail(span, "upsert", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug(ctx, "upserted vectors",
		zap.String("collection", s.name),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

// SearchVectors implements Store.
func (s *ChromemStore) SearchVectors(ctx context.Context, embedding []float32, filter SearchFilter, limit int, scoreThreshold *float32) ([]SearchResult, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.SearchVectors")
	defer span.End()
	span.SetAttributes(
		attribute.String("repository_id", filter.RepositoryID),
		attribute.Int("limit", limit),
	)

	if err := checkQuery(embedding, filter, limit, s.dimension); err != nil {
		return nil, fail(span, "search", err)
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	// chromem rejects nResults above the document count.
	count := s.collection.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	if limit > count {
		limit = count
	}

	where := map[string]string{KeyRepositoryID: filter.RepositoryID}
	if filter.FilePath != "" {
		where[KeyFilePath] = filter.FilePath
	}
	if filter.Type != "" {
		where[KeyType] = filter.Type
	}

	hits, err := s.collection.QueryEmbedding(ctx, embedding, limit, where, nil)
	if err != nil {
		return nil, fail(span, "search", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		if scoreThreshold != nil && hit.Similarity < *scoreThreshold {
			continue
		}
		r := SearchResult{ID: hit.ID, Score: hit.Similarity, Payload: fromMetadata(hit.Metadata)}
		if !wellFormed(r, filter.RepositoryID) {
			continue
		}
		results = append(results, r)
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// DeleteVectors implements Store.
func (s *ChromemStore) DeleteVectors(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "ChromemStore.DeleteVectors")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}
	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fail(span, "delete", err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteVectorsByRepository implements Store. An empty id is a no-op.
func (s *ChromemStore) DeleteVectorsByRepository(ctx context.Context, repositoryID string) error {
	if repositoryID == "" {
		return nil
	}

	ctx, span := tracer.Start(ctx, "ChromemStore.DeleteVectorsByRepository")
	defer span.End()
	span.SetAttributes(attribute.String("repository_id", repositoryID))

	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}
	if err := s.collection.Delete(ctx, map[string]string{KeyRepositoryID: repositoryID}, nil); err != nil {
		return fail(span, "delete by repository", err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Close implements Store. Persistent databases are written on every change.
func (s *ChromemStore) Close() error {
	return nil
}

// toMetadata keeps filterable fields as plain strings and the full payload
// as JSON so numeric fields survive the round trip.
func toMetadata(payload map[string]any) (map[string]string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	meta := map[string]string{metaPayload: string(raw)}
	for _, key := range IndexedFields {
		if v, ok := payload[key].(string); ok {
			meta[key] = v
		}
	}
	return meta, nil
}

func fromMetadata(meta map[string]string) map[string]any {
	raw, ok := meta[metaPayload]
	if !ok {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	return payload
}
