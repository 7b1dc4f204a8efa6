package domain

import "errors"

var (
	// ErrMissingEmbedding is returned when candidate retrieval is attempted
	// for a record without an embedding vector
	ErrMissingEmbedding = errors.New("record has no embedding")

	// ErrGatewayUnavailable is returned when the NLP gateway cannot be reached
	// or returns an unusable response
	ErrGatewayUnavailable = errors.New("embedding gateway unavailable")

	// ErrNotFound is returned when a mapping, master product, or raw record
	// does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a review action targets a mapping
	// whose status is terminal
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflictViolation is returned when a uniqueness constraint is hit
	// outside the upsert path; this indicates a programming error
	ErrConflictViolation = errors.New("unexpected uniqueness conflict")

	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrCacheMiss is returned when data is not found in cache
	ErrCacheMiss = errors.New("cache miss")
)
