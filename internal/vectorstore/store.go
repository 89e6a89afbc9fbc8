// Package vectorstore is the gateway to the vector database. It owns the
// shared collection layout and is the only package that knows which
// backend stores the vectors.
//
// All repositories share one collection. Isolation between repositories is
// enforced by the repositoryId payload filter on every search and delete.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultCollection is the single collection shared by all repositories.
	DefaultCollection = "lingo-dev"

	// DefaultDimension matches the embedding model output.
	DefaultDimension = 1536
)

// Payload keys the gateway filters on or requires in search results.
const (
	KeyRepositoryID = "repositoryId"
	KeyFilePath     = "filePath"
	KeyType         = "type"
	KeyContent      = "content"
)

// IndexedFields are the payload fields that get a keyword index.
var IndexedFields = []string{KeyRepositoryID, KeyFilePath, KeyType}

var (
	// ErrVectorStore matches every error returned by a Store.
	ErrVectorStore = errors.New("vector store error")

	// ErrInvalidConfig is returned by constructors.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidVector means a point or query vector has the wrong shape.
	ErrInvalidVector = errors.New("invalid vector")

	// ErrMissingRepositoryID means a search was attempted without scoping.
	ErrMissingRepositoryID = errors.New("repository id is required")
)

var tracer = otel.Tracer("repolens.vectorstore")

// Error records the failed operation and its cause.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("vectorstore %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes every *Error match ErrVectorStore.
func (e *Error) Is(target error) bool {
	return target == ErrVectorStore
}

// Point is a vector to store. An empty ID is replaced with a random UUID.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// SearchFilter scopes a search. RepositoryID is required; the other fields
// are optional exact matches.
type SearchFilter struct {
	RepositoryID string
	FilePath     string
	Type         string
}

// SearchResult is one hit, in the store's ranking order.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Store is the vector store gateway.
type Store interface {
	// EnsureCollection creates the collection and its payload indexes if
	// missing. It is idempotent and safe to call before every operation.
	EnsureCollection(ctx context.Context) error

	// UpsertVectors writes points in one batch and returns their IDs in input
	// order. An empty input returns an empty slice without contacting the
	// backend.
	UpsertVectors(ctx context.Context, points []Point) ([]string, error)

	// SearchVectors returns up to limit nearest neighbours within the
	// filter's repository, best first.
	SearchVectors(ctx context.Context, embedding []float32, filter SearchFilter, limit int, scoreThreshold *float32) ([]SearchResult, error)

	// DeleteVectors removes points by ID.
	DeleteVectors(ctx context.Context, ids []string) error

	// DeleteVectorsByRepository removes every point of one repository.
	DeleteVectorsByRepository(ctx context.Context, repositoryID string) error

	Close() error
}

// ensureOnce runs a bootstrap until it first succeeds.
type ensureOnce struct {
	mu   sync.Mutex
	done bool
}

func (o *ensureOnce) Do(fn func() error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	o.done = true
	return nil
}

// preparePoints validates every vector and assigns missing IDs. Nothing is
// written when any point is invalid.
func preparePoints(points []Point, dimension int) ([]Point, []string, error) {
	prepared := make([]Point, len(points))
	ids := make([]string, len(points))
	for i, p := range points {
		if len(p.Vector) != dimension {
			return nil, nil, fmt.Errorf("%w: point %d has %d dimensions, want %d", ErrInvalidVector, i, len(p.Vector), dimension)
		}
		if err := checkFinite(p.Vector); err != nil {
			return nil, nil, fmt.Errorf("point %d: %w", i, err)
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		} else if _, err := uuid.Parse(p.ID); err != nil {
			return nil, nil, fmt.Errorf("%w: point %d id %q is not a UUID", ErrInvalidVector, i, p.ID)
		}
		prepared[i] = p
		ids[i] = p.ID
	}
	return prepared, ids, nil
}

func checkFinite(v []float32) error {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite component", ErrInvalidVector)
		}
	}
	return nil
}

func checkQuery(embedding []float32, filter SearchFilter, limit, dimension int) error {
	if filter.RepositoryID == "" {
		return ErrMissingRepositoryID
	}
	if len(embedding) != dimension {
		return fmt.Errorf("%w: query has %d dimensions, want %d", ErrInvalidVector, len(embedding), dimension)
	}
	if limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidVector, limit)
	}
	return nil
}

// wellFormed reports whether a hit can be surfaced for repositoryID.
func wellFormed(r SearchResult, repositoryID string) bool {
	if r.ID == "" || r.Payload == nil {
		return false
	}
	if math.IsNaN(float64(r.Score)) || math.IsInf(float64(r.Score), 0) {
		return false
	}
	if _, ok := r.Payload[KeyContent].(string); !ok {
		return false
	}
	repo, ok := r.Payload[KeyRepositoryID].(string)
	return ok && repo == repositoryID
}

// fail records err on span and wraps it as an *Error.
func fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return &Error{Op: op, Err: err}
}
