package search

import "errors"

// Search failures. Errors returned by Search wrap exactly one of these, so
// callers classify them with errors.Is.
var (
	// ErrInvalidInput means the query was empty or whitespace only.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthenticated means no caller identity was supplied.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrEmbeddingFailure means the query could not be embedded.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrStoreFailure means the caller's tasks could not be listed.
	ErrStoreFailure = errors.New("store failure")
)
