// Package store persists chunk embeddings on disk and answers nearest
// neighbor queries over them. The backing file lives inside the directory
// passed on the command line; single-writer usage is assumed.
package store

import (
	"context"
	"errors"

	"github.com/kailas-cloud/recall/internal/domain"
)

// ErrKeyNotFound signals a missing key in the KV side store.
var ErrKeyNotFound = errors.New("key not found")

// Record is one persisted (chunk, vector) pair. Records are append-only:
// re-ingesting replaces a record under the same ID but nothing updates or
// deletes them otherwise.
type Record struct {
	ID        string
	Content   string
	Metadata  domain.ChunkMetadata
	Embedding []float32
}

// Result is a record scored against a query vector.
type Result struct {
	Record
	Score float64
}

// Store is the persistence contract of the retrieval pipeline.
type Store interface {
	Put(ctx context.Context, rec Record) error
	PutBatch(ctx context.Context, recs []Record) error
	// Nearest returns up to k records by descending cosine similarity.
	Nearest(ctx context.Context, vector []float32, k int) ([]Result, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// KV is the side store used by the embedding cache.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}
