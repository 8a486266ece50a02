package rag

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a brute-force in-process VectorStore. It backs tests and
// `--store memory` runs that need no external services. Semantic queries use
// exact cosine similarity; keyword queries score by query-token coverage.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	vectors map[string][]float32
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		vectors: make(map[string][]float32),
	}
}

// Add upserts records keyed by record ID.
func (m *MemoryStore) Add(ctx context.Context, records []Record, embeddings [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range records {
		m.records[rec.ID] = rec
		if i < len(embeddings) {
			vec := make([]float32, len(embeddings[i]))
			copy(vec, embeddings[i])
			m.vectors[rec.ID] = vec
		}
	}
	return nil
}

// QuerySemantic scores every stored vector with cosine similarity and
// returns the top k, highest first.
func (m *MemoryStore) QuerySemantic(ctx context.Context, embedding []float32, k int, filter *Filter) ([]Scored, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []Scored
	for id, rec := range m.records {
		if !filter.Matches(rec.Origin) {
			continue
		}
		vec, ok := m.vectors[id]
		if !ok {
			continue
		}
		sim := cosineSimilarity(embedding, vec)
		if sim < 0 {
			sim = 0
		}
		results = append(results, Scored{Record: rec, Similarity: sim})
	}
	sortScored(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// QueryKeyword scores each record by the fraction of query tokens it
// contains and returns the top k non-zero matches.
func (m *MemoryStore) QueryKeyword(ctx context.Context, text string, k int, filter *Filter) ([]Scored, error) {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	if len(tokens) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []Scored
	for _, rec := range m.records {
		if !filter.Matches(rec.Origin) {
			continue
		}
		recTokens := make(map[string]struct{})
		for _, tok := range tokenPattern.FindAllString(strings.ToLower(rec.Text), -1) {
			recTokens[tok] = struct{}{}
		}
		hits := 0
		for _, tok := range tokens {
			if _, ok := recTokens[tok]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		results = append(results, Scored{
			Record:     rec,
			Similarity: float64(hits) / float64(len(tokens)),
		})
	}
	sortScored(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes the given IDs. Unknown IDs are ignored.
func (m *MemoryStore) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
		delete(m.vectors, id)
	}
	return nil
}

// AllIDs returns every stored record ID.
func (m *MemoryStore) AllIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	return ids, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

// sortScored orders results by similarity descending, breaking ties by
// record ID so results are deterministic across map iteration orders.
func sortScored(results []Scored) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths and zero vectors yield 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
