package domain

import "errors"

var (
	// ErrUnsupportedFormat signals an unrecognized export format flag.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrAuthentication signals a rejected or missing API key.
	ErrAuthentication = errors.New("authentication failed")
	// ErrRateLimited signals upstream throttling; safe to retry with backoff.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmbeddingProvider signals an embedding API failure.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrInferenceProvider signals a chat completion API failure.
	ErrInferenceProvider = errors.New("inference provider error")
	// ErrVectorDimMismatch signals an embedding dimension conflict with the store.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
)
