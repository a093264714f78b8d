package store

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/recall/internal/domain"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_RoundTripTop1(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recs := []Record{
		{ID: "a", Content: "Meet at 5pm", Embedding: []float32{1, 0, 0}},
		{ID: "b", Content: "See you then", Embedding: []float32{0, 1, 0}},
		{ID: "c", Content: "unrelated", Embedding: []float32{0, 0, 1}},
	}
	if err := s.PutBatch(ctx, recs); err != nil {
		t.Fatalf("put batch: %v", err)
	}

	// A chunk queried with its own embedding must come back as top-1.
	for _, rec := range recs {
		results, err := s.Nearest(ctx, rec.Embedding, 1)
		if err != nil {
			t.Fatalf("nearest: %v", err)
		}
		if len(results) != 1 || results[0].ID != rec.ID {
			t.Errorf("top-1 for %s = %+v", rec.ID, results)
		}
		if results[0].Score < 0.999 {
			t.Errorf("self-similarity score = %f", results[0].Score)
		}
	}
}

func TestSQLite_NearestOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutBatch(ctx, []Record{
		{ID: "close", Content: "x", Embedding: []float32{0.9, 0.1, 0}},
		{ID: "far", Content: "y", Embedding: []float32{0, 1, 0}},
	}); err != nil {
		t.Fatalf("put batch: %v", err)
	}

	results, err := s.Nearest(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "close" || results[1].ID != "far" {
		t.Errorf("ordering = [%s %s]", results[0].ID, results[1].ID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %f <= %f", results[0].Score, results[1].Score)
	}
}

func TestSQLite_IdempotentReingest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := Record{ID: "a", Content: "hello", Embedding: []float32{1, 0}}
	for range 3 {
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d after repeated puts of the same ID", n)
	}

	results, err := s.Nearest(ctx, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestSQLite_EmptyStore(t *testing.T) {
	s := openTestStore(t)

	results, err := s.Nearest(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty store", len(results))
	}
}

func TestSQLite_DimensionMismatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, Record{ID: "a", Content: "x", Embedding: []float32{1, 0, 0}}); err != nil {
		t.Fatalf("put: %v", err)
	}

	err := s.Put(ctx, Record{ID: "b", Content: "y", Embedding: []float32{1, 0}})
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Errorf("put mismatch = %v, want ErrVectorDimMismatch", err)
	}

	_, err = s.Nearest(ctx, []float32{1, 0}, 1)
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Errorf("nearest mismatch = %v, want ErrVectorDimMismatch", err)
	}
}

func TestSQLite_MixedDimensionBatchLeavesNoPin(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.PutBatch(ctx, []Record{
		{ID: "a", Content: "x", Embedding: []float32{1, 0, 0}},
		{ID: "b", Content: "y", Embedding: []float32{1, 0}},
	})
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("mixed batch = %v, want ErrVectorDimMismatch", err)
	}

	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d after rejected batch, want 0", count)
	}

	// The rejected batch must not have pinned a dimension: a clean batch
	// with a different dimension still succeeds.
	if err := s.Put(ctx, Record{ID: "c", Content: "z", Embedding: []float32{1, 0}}); err != nil {
		t.Errorf("put after rejected batch: %v", err)
	}
}

func TestSQLite_MetadataRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	meta := domain.ChunkMetadata{StartTime: 100, EndTime: 200, MessageCount: 3, Senders: "alice,bob"}
	if err := s.Put(ctx, Record{ID: "a", Content: "x", Metadata: meta, Embedding: []float32{1}}); err != nil {
		t.Fatalf("put: %v", err)
	}

	results, err := s.Nearest(ctx, []float32{1}, 1)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Metadata != meta {
		t.Errorf("metadata = %+v, want %+v", results[0].Metadata, meta)
	}
}

func TestSQLite_KV(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("get missing = %v, want ErrKeyNotFound", err)
	}

	if err := s.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("value = %q", got)
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Put(ctx, Record{ID: "a", Content: "hello", Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	results, err := s.Nearest(ctx, []float32{1, 0}, 1)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if len(results) != 1 || results[0].Content != "hello" {
		t.Errorf("results after reopen = %+v", results)
	}
}

func TestEncodeDecodeVector(t *testing.T) {
	vec := []float32{0.1, -2.5, 0, 42}

	decoded, err := DecodeVector(EncodeVector(vec))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != len(vec) {
		t.Fatalf("len = %d", len(decoded))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Errorf("decoded[%d] = %f, want %f", i, decoded[i], vec[i])
		}
	}

	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
