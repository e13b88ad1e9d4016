package types

import "errors"

// Error taxonomy for the retrieval engine.
//
// Validation and initialization errors are the caller's fault and are never
// retried. Model errors may be transient and are eligible for retry with
// backoff. Shape mismatches trigger per-item fallback in batch paths rather
// than failing the whole batch. Index query errors carry the sanitizer's
// stated reason back to the caller.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotInitialized   = errors.New("embedder not initialized")
	ErrModelUnavailable = errors.New("embedding model unavailable")
	ErrShapeMismatch    = errors.New("model output shape mismatch")
	ErrIndexQuery       = errors.New("lexical index rejected query")

	// ErrDimensionMismatch is returned when two vectors of different lengths
	// are compared. This is a programming error, never silently truncated.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)
