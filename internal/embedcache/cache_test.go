package embedcache

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/acervolabs/acervo/internal/rag"
)

// countingEmbedder records every text it is asked to embed.
type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	texts []string
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.texts = append(c.texts, texts...)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 2}
	}
	return out, nil
}

var _ rag.Embedder = (*Cache)(nil)

func newTestCache(t *testing.T, inner rag.Embedder) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "embeddings.json")
	return New(inner, path, nil, slog.Default())
}

func TestCache_EmbedsEachTextAtMostOnce(t *testing.T) {
	t.Parallel()
	inner := &countingEmbedder{}
	cache := newTestCache(t, inner)
	ctx := context.Background()

	first, err := cache.Embed(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	second, err := cache.Embed(ctx, []string{"beta", "gamma", "alpha"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	if inner.calls != 2 {
		t.Errorf("inner calls: got %d, want 2", inner.calls)
	}
	// Only gamma was a miss on the second call.
	if want := []string{"alpha", "beta", "gamma"}; !reflect.DeepEqual(inner.texts, want) {
		t.Errorf("texts sent to inner embedder: got %v, want %v", inner.texts, want)
	}
	if !reflect.DeepEqual(first[1], second[0]) {
		t.Errorf("cached vector differs from original: %v vs %v", first[1], second[0])
	}
}

func TestCache_AllHitsSkipInnerEmbedder(t *testing.T) {
	t.Parallel()
	inner := &countingEmbedder{}
	cache := newTestCache(t, inner)
	ctx := context.Background()

	if _, err := cache.Embed(ctx, []string{"uno", "dos"}); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Embed(ctx, []string{"dos", "uno"}); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls: got %d, want 1 (second call was all hits)", inner.calls)
	}
}

func TestCache_ReturnedVectorsAreCopies(t *testing.T) {
	t.Parallel()
	cache := newTestCache(t, &countingEmbedder{})
	ctx := context.Background()

	first, err := cache.Embed(ctx, []string{"texto"})
	if err != nil {
		t.Fatal(err)
	}
	want := append([]float32(nil), first[0]...)

	// A caller scribbling on its result must not corrupt the cached entry.
	first[0][0] = -999

	second, err := cache.Embed(ctx, []string{"texto"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(second[0], want) {
		t.Errorf("cached entry was mutated through a returned vector: got %v, want %v", second[0], want)
	}

	// Hits are independent copies too.
	second[0][1] = -999
	third, err := cache.Embed(ctx, []string{"texto"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(third[0], want) {
		t.Errorf("hit aliased the cached entry: got %v, want %v", third[0], want)
	}
}

func TestCache_SaveLoadRoundtrip(t *testing.T) {
	t.Parallel()
	inner := &countingEmbedder{}
	path := filepath.Join(t.TempDir(), "embeddings.json")
	cache := New(inner, path, nil, slog.Default())
	ctx := context.Background()

	original, err := cache.Embed(ctx, []string{"texto persistente"})
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded := New(&countingEmbedder{}, path, nil, slog.Default())
	reloaded.Load()
	if reloaded.Len() != 1 {
		t.Fatalf("reloaded entries: got %d, want 1", reloaded.Len())
	}
	vec, err := reloaded.GetEmbedding(ctx, "texto persistente")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(vec, original[0]) {
		t.Errorf("reloaded vector differs: got %v, want %v", vec, original[0])
	}
}

func TestCache_ClearPersistsEmptyState(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "embeddings.json")
	cache := New(&countingEmbedder{}, path, nil, slog.Default())

	if _, err := cache.Embed(context.Background(), []string{"entrada"}); err != nil {
		t.Fatal(err)
	}
	if err := cache.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("entries after clear: got %d, want 0", cache.Len())
	}

	reloaded := New(&countingEmbedder{}, path, nil, slog.Default())
	reloaded.Load()
	if reloaded.Len() != 0 {
		t.Errorf("persisted entries after clear: got %d, want 0", reloaded.Len())
	}
}

func TestCache_LoadCorruptFileIsNonFatal(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "embeddings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	cache := New(&countingEmbedder{}, path, nil, slog.Default())
	cache.Load()
	if cache.Len() != 0 {
		t.Errorf("expected empty cache after corrupt load, got %d entries", cache.Len())
	}
	// The cache must still work after a failed load.
	if _, err := cache.Embed(context.Background(), []string{"nuevo"}); err != nil {
		t.Fatalf("embed after corrupt load: %v", err)
	}
}

func TestCache_LoadMissingFileStartsEmpty(t *testing.T) {
	t.Parallel()
	cache := New(&countingEmbedder{}, filepath.Join(t.TempDir(), "missing.json"), nil, slog.Default())
	cache.Load()
	if cache.Len() != 0 {
		t.Errorf("expected empty cache, got %d entries", cache.Len())
	}
}
