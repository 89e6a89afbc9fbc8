package indexer

import (
	"fmt"

	"github.com/fyrsmithlabs/repolens/internal/repository"
)

// ConflictError is returned when the repository URL is already being indexed.
type ConflictError struct {
	URL string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("repository %s is already being indexed", e.URL)
}

// Is matches repository.ErrIndexingInProgress.
func (e *ConflictError) Is(target error) bool {
	return target == repository.ErrIndexingInProgress
}

// ValidationError reports a malformed request. Nothing is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
