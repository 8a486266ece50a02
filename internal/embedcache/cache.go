// Package embedcache persists computed embeddings so repeated indexing runs
// and repeated queries never re-embed identical text. The cache wraps an
// inner embedder and satisfies the same interface, so callers are oblivious
// to whether a vector came from the cache or the model.
package embedcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/acervolabs/acervo/internal/metrics"
	"github.com/acervolabs/acervo/internal/rag"
)

// Cache is a concurrency-safe embedding cache keyed by exact text. It
// implements rag.Embedder.
type Cache struct {
	inner rag.Embedder
	path  string
	log   *slog.Logger
	met   *metrics.Metrics

	mu      sync.RWMutex
	entries map[string][]float32
}

// New builds a cache over the inner embedder, persisting to path. Pass a nil
// metrics handle to disable instrumentation.
func New(inner rag.Embedder, path string, met *metrics.Metrics, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		inner:   inner,
		path:    path,
		log:     log,
		met:     met,
		entries: make(map[string][]float32),
	}
}

// Embed returns embeddings for texts, computing only the cache misses with a
// single call to the inner embedder. Freshly computed vectors overwrite any
// stale entries. The returned slice is parallel to texts; the vectors are
// copies the caller may mutate without touching the cached entries.
func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var missTexts []string
	var missIdx []int
	c.mu.RLock()
	for i, text := range texts {
		if vec, ok := c.entries[text]; ok {
			hit := make([]float32, len(vec))
			copy(hit, vec)
			out[i] = hit
		} else {
			missTexts = append(missTexts, text)
			missIdx = append(missIdx, i)
		}
	}
	c.mu.RUnlock()

	c.met.CacheHits(len(texts) - len(missTexts))
	c.met.CacheMisses(len(missTexts))

	if len(missTexts) == 0 {
		return out, nil
	}

	computed, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, fmt.Errorf("embedcache: embed %d texts: %w", len(missTexts), err)
	}
	if len(computed) != len(missTexts) {
		return nil, fmt.Errorf("embedcache: embedder returned %d vectors for %d texts", len(computed), len(missTexts))
	}

	c.mu.Lock()
	for j, vec := range computed {
		// Store a private copy; the computed slice is handed to the caller.
		stored := make([]float32, len(vec))
		copy(stored, vec)
		c.entries[missTexts[j]] = stored
		out[missIdx[j]] = vec
	}
	c.mu.Unlock()

	return out, nil
}

// GetEmbedding returns the embedding for a single text.
func (c *Cache) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Load reads the persisted cache from disk. A missing or unreadable file is
// not fatal; the cache starts empty and logs a warning.
func (c *Cache) Load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("embedcache: load failed, starting empty",
				slog.String("path", c.path), slog.Any("error", err))
		}
		return
	}

	entries := make(map[string][]float32)
	if err := json.Unmarshal(data, &entries); err != nil {
		c.log.Warn("embedcache: corrupt cache file, starting empty",
			slog.String("path", c.path), slog.Any("error", err))
		return
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	c.log.Info("embedcache: loaded", slog.Int("entries", len(entries)), slog.String("path", c.path))
}

// Save writes the whole cache to disk atomically (temp file + rename).
func (c *Cache) Save() error {
	c.mu.RLock()
	data, err := json.Marshal(c.entries)
	count := len(c.entries)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("embedcache: marshal: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("embedcache: create dir: %w", err)
		}
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("embedcache: write temp: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("embedcache: rename: %w", err)
	}

	c.log.Debug("embedcache: saved", slog.Int("entries", count), slog.String("path", c.path))
	return nil
}

// Clear empties the cache and immediately persists the empty state.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.entries = make(map[string][]float32)
	c.mu.Unlock()
	return c.Save()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
