// Package repository stores the relational record of each indexed
// repository: its metadata, indexing status and chunk count.
//
// Only the indexing orchestrator mutates records. Records are keyed by URL
// so re-indexing the same URL keeps the same ID.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("repository not found")

	// ErrIndexingInProgress is returned by TryBeginIndexing when another run
	// holds the record.
	ErrIndexingInProgress = errors.New("repository is already being indexed")

	// ErrAlreadyExists is returned by Create when the URL is registered.
	ErrAlreadyExists = errors.New("repository already exists")
)

// Status is the indexing state. Failed runs store "failed" optionally
// followed by ":" and the reason.
type Status string

const (
	StatusIndexing Status = "indexing"
	StatusIndexed  Status = "indexed"
	StatusFailed   Status = "failed"
)

// maxReasonLen bounds the failure reason stored in the status column.
const maxReasonLen = 512

// FailedStatus returns "failed" or "failed:<reason>".
func FailedStatus(reason string) Status {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return StatusFailed
	}
	if len(reason) > maxReasonLen {
		cut := maxReasonLen
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut]
	}
	return StatusFailed + ":" + Status(reason)
}

// IsFailed reports whether s is a failed status.
func (s Status) IsFailed() bool {
	return s == StatusFailed || strings.HasPrefix(string(s), string(StatusFailed)+":")
}

// Reason returns the failure reason, or "" for other statuses.
func (s Status) Reason() string {
	if !s.IsFailed() {
		return ""
	}
	return strings.TrimPrefix(strings.TrimPrefix(string(s), string(StatusFailed)), ":")
}

// Metadata describes a repository as reported by the metadata provider.
type Metadata struct {
	Name          string `json:"name"`
	Owner         string `json:"owner"`
	URL           string `json:"url"`
	Description   string `json:"description,omitempty"`
	Stars         int    `json:"stars"`
	Language      string `json:"language,omitempty"`
	DefaultBranch string `json:"defaultBranch,omitempty"`
}

// Repository is the stored record.
type Repository struct {
	ID string `json:"id"`
	Metadata
	Status        Status     `json:"status"`
	ChunksIndexed int        `json:"chunksIndexed"`
	IndexedAt     *time.Time `json:"indexedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Store persists repository records.
type Store interface {
	// UpsertByURL inserts a record or updates the metadata and status of the
	// record with the same URL. ID and chunk count are preserved.
	UpsertByURL(ctx context.Context, meta Metadata, status Status) (*Repository, error)

	// Create inserts a record for a URL that is not registered yet and
	// returns ErrAlreadyExists otherwise.
	Create(ctx context.Context, meta Metadata, status Status) (*Repository, error)

	// TryBeginIndexing behaves like UpsertByURL with StatusIndexing unless
	// the record is already indexing and was updated within staleAfter, in
	// which case it returns ErrIndexingInProgress.
	TryBeginIndexing(ctx context.Context, meta Metadata, staleAfter time.Duration) (*Repository, error)

	Get(ctx context.Context, id string) (*Repository, error)
	GetByURL(ctx context.Context, url string) (*Repository, error)

	// List returns every record, newest first.
	List(ctx context.Context) ([]*Repository, error)

	// MarkIndexed sets StatusIndexed, the chunk count and IndexedAt.
	MarkIndexed(ctx context.Context, id string, chunks int, at time.Time) (*Repository, error)

	// MarkFailed sets FailedStatus(reason). The chunk count is unchanged.
	MarkFailed(ctx context.Context, id string, reason string) (*Repository, error)

	// ResetIndex records that the repository's vectors were removed:
	// StatusIndexed with zero chunks.
	ResetIndex(ctx context.Context, id string) (*Repository, error)

	Close()
}
