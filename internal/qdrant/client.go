// Package qdrant is a thin retrying wrapper over the official Qdrant gRPC
// client, exposing only what the vector store gateway needs.
package qdrant

import (
	"context"
)

// Client is the subset of Qdrant used by repolens. Every write waits for
// the server to apply it before returning.
type Client interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	CreateKeywordIndex(ctx context.Context, collection, field string) error

	Upsert(ctx context.Context, collection string, points []*Point) error
	Search(ctx context.Context, collection string, vector []float32, limit uint64, filter *Filter, scoreThreshold *float32) ([]*ScoredPoint, error)
	Delete(ctx context.Context, collection string, ids []string) error
	DeleteByFilter(ctx context.Context, collection string, filter *Filter) error

	Health(ctx context.Context) error
	Close() error
}

// Point is a vector with its payload. ID must be a UUID.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	Point
	Score float32
}

// Filter is a conjunction of keyword matches.
type Filter struct {
	Must []Condition
}

// Condition requires payload field Field to equal Keyword.
type Condition struct {
	Field   string
	Keyword string
}

// MatchAll builds a filter from field/keyword pairs, skipping empty values.
func MatchAll(pairs ...string) *Filter {
	f := &Filter{}
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		f.Must = append(f.Must, Condition{Field: pairs[i], Keyword: pairs[i+1]})
	}
	return f
}
