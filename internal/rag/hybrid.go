package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// HybridStore presents a qdrant vector backend and a SQLite keyword index as
// one VectorStore. Writes go to both backends; semantic queries are served by
// qdrant and keyword queries by the FTS index.
type HybridStore struct {
	vectors  *QdrantStore
	keywords *KeywordIndex
	log      *slog.Logger
}

// NewHybridStore composes the two backends. Both must be non-nil.
func NewHybridStore(vectors *QdrantStore, keywords *KeywordIndex, log *slog.Logger) *HybridStore {
	if log == nil {
		log = slog.Default()
	}
	return &HybridStore{vectors: vectors, keywords: keywords, log: log}
}

// Add writes the batch to both backends. A failure in either backend fails
// the batch so the caller can skip it as a unit.
func (h *HybridStore) Add(ctx context.Context, records []Record, embeddings [][]float32) error {
	if err := h.vectors.Add(ctx, records, embeddings); err != nil {
		return fmt.Errorf("hybrid: vector add: %w", err)
	}
	if err := h.keywords.Add(ctx, records, embeddings); err != nil {
		return fmt.Errorf("hybrid: keyword add: %w", err)
	}
	return nil
}

// QuerySemantic delegates to the vector backend.
func (h *HybridStore) QuerySemantic(ctx context.Context, embedding []float32, k int, filter *Filter) ([]Scored, error) {
	return h.vectors.QuerySemantic(ctx, embedding, k, filter)
}

// QueryKeyword delegates to the keyword backend.
func (h *HybridStore) QueryKeyword(ctx context.Context, text string, k int, filter *Filter) ([]Scored, error) {
	return h.keywords.QueryKeyword(ctx, text, k, filter)
}

// Delete removes the IDs from both backends. Each backend already treats a
// failed batch as best-effort, so Delete only reports total failure.
func (h *HybridStore) Delete(ctx context.Context, ids []string) error {
	if err := h.vectors.Delete(ctx, ids); err != nil {
		h.log.Warn("hybrid: vector delete failed", slog.Any("error", err))
	}
	if err := h.keywords.Delete(ctx, ids); err != nil {
		h.log.Warn("hybrid: keyword delete failed", slog.Any("error", err))
	}
	return nil
}

// AllIDs returns the union of IDs known to either backend, so the reset
// protocol clears records that only made it into one side.
func (h *HybridStore) AllIDs(ctx context.Context) ([]string, error) {
	vecIDs, err := h.vectors.AllIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("hybrid: vector ids: %w", err)
	}
	kwIDs, err := h.keywords.AllIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("hybrid: keyword ids: %w", err)
	}

	seen := make(map[string]struct{}, len(vecIDs)+len(kwIDs))
	var ids []string
	for _, id := range vecIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, id := range kwIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Close closes both backends and joins their errors.
func (h *HybridStore) Close() error {
	return errors.Join(h.vectors.Close(), h.keywords.Close())
}
