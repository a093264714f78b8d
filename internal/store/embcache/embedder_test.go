package embcache

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
	"github.com/kailas-cloud/recall/internal/store"
)

type fakeKV struct {
	data map[string][]byte
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string][]byte{}} }

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := f.data[key]
	if !ok {
		return nil, store.ErrKeyNotFound
	}
	return v, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value []byte) error {
	f.data[key] = value
	return nil
}

type countingEmbedder struct {
	calls int
	vec   []float32
}

func (e *countingEmbedder) Embed(context.Context, string) (domain.EmbeddingResult, error) {
	e.calls++
	return domain.EmbeddingResult{Embedding: e.vec, TotalTokens: 7}, nil
}

func TestCachedEmbedder_HitSkipsInner(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{1, 2, 3}}
	cached := New(inner, newFakeKV(), nil, zap.NewNop())
	ctx := context.Background()

	first, err := cached.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("first embed: %v", err)
	}
	if first.TotalTokens != 7 {
		t.Errorf("miss TotalTokens = %d", first.TotalTokens)
	}

	second, err := cached.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("second embed: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner called %d times, want 1", inner.calls)
	}
	if second.TotalTokens != 0 {
		t.Errorf("hit TotalTokens = %d, want 0", second.TotalTokens)
	}
	for i, v := range second.Embedding {
		if v != inner.vec[i] {
			t.Errorf("cached vec[%d] = %f", i, v)
		}
	}
}

func TestCachedEmbedder_DistinctTexts(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{1}}
	cached := New(inner, newFakeKV(), nil, zap.NewNop())
	ctx := context.Background()

	if _, err := cached.Embed(ctx, "one"); err != nil {
		t.Fatal(err)
	}
	if _, err := cached.Embed(ctx, "two"); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Errorf("inner called %d times, want 2", inner.calls)
	}
}

type countingBatchEmbedder struct {
	countingEmbedder
	batchCalls int
	lastBatch  []string
}

func (e *countingBatchEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	e.batchCalls++
	e.lastBatch = texts
	embeddings := make([][]float32, len(texts))
	for i := range texts {
		embeddings[i] = []float32{float32(len(texts[i]))}
	}
	return domain.BatchEmbeddingResult{Embeddings: embeddings, TotalTokens: 7 * len(texts)}, nil
}

func TestCachedEmbedder_BatchSingleProviderCall(t *testing.T) {
	inner := &countingBatchEmbedder{}
	cached := New(inner, newFakeKV(), nil, zap.NewNop())
	ctx := context.Background()

	result, err := cached.BatchEmbed(ctx, []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("batch embed: %v", err)
	}
	if inner.batchCalls != 1 {
		t.Errorf("inner batch calls = %d, want 1 (cold cache must still batch)", inner.batchCalls)
	}
	if inner.calls != 0 {
		t.Errorf("inner single-text calls = %d, want 0", inner.calls)
	}
	if len(result.Embeddings) != 3 {
		t.Fatalf("got %d embeddings", len(result.Embeddings))
	}
	for i, want := range []float32{1, 2, 3} {
		if result.Embeddings[i][0] != want {
			t.Errorf("embeddings[%d] = %v, want [%g]", i, result.Embeddings[i], want)
		}
	}
}

func TestCachedEmbedder_BatchEmbedsOnlyMisses(t *testing.T) {
	inner := &countingBatchEmbedder{}
	cached := New(inner, newFakeKV(), nil, zap.NewNop())
	ctx := context.Background()

	if _, err := cached.BatchEmbed(ctx, []string{"a", "bb"}); err != nil {
		t.Fatal(err)
	}

	result, err := cached.BatchEmbed(ctx, []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatal(err)
	}
	if inner.batchCalls != 2 {
		t.Fatalf("inner batch calls = %d, want 2", inner.batchCalls)
	}
	if len(inner.lastBatch) != 1 || inner.lastBatch[0] != "ccc" {
		t.Errorf("second batch = %v, want only the miss", inner.lastBatch)
	}
	if result.TotalTokens != 7 {
		t.Errorf("TotalTokens = %d, want tokens for the single miss", result.TotalTokens)
	}
	for i, want := range []float32{1, 2, 3} {
		if result.Embeddings[i][0] != want {
			t.Errorf("embeddings[%d] = %v, want [%g]", i, result.Embeddings[i], want)
		}
	}
}

func TestCachedEmbedder_BatchFallbackWithoutInnerBatch(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{9}}
	cached := New(inner, newFakeKV(), nil, zap.NewNop())

	result, err := cached.BatchEmbed(context.Background(), []string{"x", "y"})
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls)
	}
	if len(result.Embeddings) != 2 {
		t.Errorf("got %d embeddings", len(result.Embeddings))
	}
}
