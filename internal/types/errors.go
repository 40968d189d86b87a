package types

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// Sentinel errors for every failure class the core can surface. The rpc layer
// maps each to a stable numeric code; everything else wraps these with %w.
var (
	// ErrInvalid marks malformed input, schema violations, or out-of-range values.
	ErrInvalid = errors.New("invalid argument")

	// ErrNotFound marks a referenced id that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an invariant violation that is not a malformed input.
	ErrConflict = errors.New("conflict")

	// ErrSchemaNewer marks a catalog written by a newer build than this one.
	ErrSchemaNewer = errors.New("catalog schema is newer than this build")

	// ErrEmbeddingMismatch marks a catalog initialized with a different vector
	// dimension than the configured embedder.
	ErrEmbeddingMismatch = errors.New("embedding dimension mismatch")

	// ErrCanceled marks a deadline or cancellation observed at a suspension point.
	ErrCanceled = errors.New("canceled")

	// ErrIO marks an underlying storage or filesystem failure.
	ErrIO = errors.New("i/o failure")

	// ErrInternal marks a caught panic or unreachable state.
	ErrInternal = errors.New("internal error")
)

// FieldError is an ErrInvalid with a path pointing at the offending field.
type FieldError struct {
	Path   string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid field %s: %s", e.Path, e.Reason)
}

// Unwrap makes every FieldError match ErrInvalid.
func (e *FieldError) Unwrap() error { return ErrInvalid }

// Invalidf builds a FieldError for the given path.
func Invalidf(path, format string, args ...interface{}) error {
	return &FieldError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// ErrorCode returns the stable numeric code for an error, or 0 for nil.
func ErrorCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalid):
		return 1
	case errors.Is(err, ErrNotFound):
		return 2
	case errors.Is(err, ErrConflict):
		return 3
	case errors.Is(err, ErrSchemaNewer):
		return 4
	case errors.Is(err, ErrEmbeddingMismatch):
		return 5
	case errors.Is(err, ErrCanceled):
		return 6
	case errors.Is(err, ErrIO):
		return 7
	default:
		return 8 // ErrInternal and anything unclassified
	}
}

// ErrorPath extracts the field path from an error chain, if any.
func ErrorPath(err error) string {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Path
	}
	return ""
}
