package models

import "errors"

// Errors shared by every layer. Callers wrap them with the failing operation and cause,
// e.g. fmt.Errorf("embed query: %w: %w", ErrEmbeddingUnavailable, err).
var (
	// ErrValidation indicates bad input such as an empty or oversized query.
	ErrValidation = errors.New("validation failed")

	// ErrEmbeddingUnavailable indicates the embedding capability failed or timed out.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrGenerationUnavailable indicates the generation capability failed or timed out.
	ErrGenerationUnavailable = errors.New("generation unavailable")

	// ErrNoRelevantContent indicates retrieval found nothing above the similarity floor.
	ErrNoRelevantContent = errors.New("no relevant content")

	// ErrStorageUnavailable indicates the fragment store could not be read or written.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrStorageCorruption indicates persisted data violates an invariant, such as
	// embeddings of different lengths in one index.
	ErrStorageCorruption = errors.New("storage corruption")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
)
