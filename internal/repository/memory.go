package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and single-process runs.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*Repository
	byURL map[string]string
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*Repository),
		byURL: make(map[string]string),
		now:   time.Now,
	}
}

func (s *MemoryStore) UpsertByURL(_ context.Context, meta Metadata, status Status) (*Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(meta, status), nil
}

func (s *MemoryStore) Create(_ context.Context, meta Metadata, status Status) (*Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byURL[meta.URL]; ok {
		return nil, ErrAlreadyExists
	}
	return s.upsertLocked(meta, status), nil
}

func (s *MemoryStore) TryBeginIndexing(_ context.Context, meta Metadata, staleAfter time.Duration) (*Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byURL[meta.URL]; ok {
		r := s.byID[id]
		if r.Status == StatusIndexing && s.now().Sub(r.UpdatedAt) < staleAfter {
			return nil, ErrIndexingInProgress
		}
	}
	return s.upsertLocked(meta, StatusIndexing), nil
}

func (s *MemoryStore) upsertLocked(meta Metadata, status Status) *Repository {
	now := s.now().UTC()
	if id, ok := s.byURL[meta.URL]; ok {
		r := s.byID[id]
		r.Metadata = meta
		r.Status = status
		r.UpdatedAt = now
		return clone(r)
	}

	r := &Repository{
		ID:        uuid.NewString(),
		Metadata:  meta,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[r.ID] = r
	s.byURL[meta.URL] = r.ID
	return clone(r)
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (s *MemoryStore) GetByURL(_ context.Context, url string) (*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[url]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *MemoryStore) List(context.Context) ([]*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Repository, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, clone(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) MarkIndexed(_ context.Context, id string, chunks int, at time.Time) (*Repository, error) {
	return s.update(id, func(r *Repository) {
		at = at.UTC()
		r.Status = StatusIndexed
		r.ChunksIndexed = chunks
		r.IndexedAt = &at
	})
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, reason string) (*Repository, error) {
	return s.update(id, func(r *Repository) {
		r.Status = FailedStatus(reason)
	})
}

func (s *MemoryStore) ResetIndex(_ context.Context, id string) (*Repository, error) {
	return s.update(id, func(r *Repository) {
		r.Status = StatusIndexed
		r.ChunksIndexed = 0
	})
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

func (s *MemoryStore) update(id string, fn func(*Repository)) (*Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(r)
	r.UpdatedAt = s.now().UTC()
	return clone(r), nil
}

func clone(r *Repository) *Repository {
	c := *r
	if r.IndexedAt != nil {
		at := *r.IndexedAt
		c.IndexedAt = &at
	}
	return &c
}
