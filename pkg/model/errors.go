package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrEmbeddingUnavailable indicates the embedding gateway could not
	// produce a vector. Retryable on the next request.
	ErrEmbeddingUnavailable = goerr.New("embedding unavailable")

	// ErrGenerationUnavailable indicates the generative backend failed
	ErrGenerationUnavailable = goerr.New("generation unavailable")

	// ErrInvalidFilter indicates a search filter is missing required fields
	ErrInvalidFilter = goerr.New("invalid filter")

	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = goerr.New("not found")

	// ErrConflictingUpdate indicates a conditional update lost a race,
	// e.g. an event's session was claimed by a concurrent segmentation run
	ErrConflictingUpdate = goerr.New("conflicting update")
)
