package embeddings

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is matched by *DimensionMismatchError.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrProviderFailed is matched by *ProviderError.
	ErrProviderFailed = errors.New("embedding provider failed")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// DimensionMismatchError reports a vector whose length differs from the
// expected dimension. Index is the position among the embedded inputs.
type DimensionMismatchError struct {
	Index    int
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding %d has dimension %d, expected %d", e.Index, e.Got, e.Expected)
}

// Is reports ErrDimensionMismatch.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// ProviderError wraps a failed provider call.
type ProviderError struct {
	Model string
	// Batch is the zero-based batch number.
	Batch int
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s failed on batch %d: %v", e.Model, e.Batch, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is reports ErrProviderFailed.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderFailed
}
