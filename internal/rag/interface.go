// Package rag defines the retrieval types and interfaces for the acervo
// document engine: typed fragment records, vector storage with hybrid
// (semantic + keyword) querying, and embedding. Concrete implementations
// (Qdrant, SQLite FTS5, in-memory) satisfy these interfaces so the indexing
// pipeline and the retrieval engine never depend on a specific backend.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ProvenanceDocument tags results derived from indexed document fragments,
// as opposed to auxiliary knowledge sources merged in by outer layers.
const ProvenanceDocument = "document"

// Record is one stored fragment with its typed metadata. Records are
// immutable once created and are owned by the vector store after Add.
type Record struct {
	// ID is the stable unique identifier, "{origin}_{chunkIndex}".
	ID string

	// Text is the fragment content.
	Text string

	// Origin is the name of the document the fragment was derived from.
	Origin string

	// ChunkIndex is the fragment's sequence position within its document.
	ChunkIndex int

	// TotalChunks is the total fragment count for the origin document.
	TotalChunks int

	// IndexedAt is when the fragment was indexed.
	IndexedAt time.Time
}

// NewRecord constructs a validated Record. Missing or inconsistent fields are
// construction errors rather than silent zero values.
func NewRecord(origin, text string, chunkIndex, totalChunks int, indexedAt time.Time) (Record, error) {
	if origin == "" {
		return Record{}, fmt.Errorf("rag: record origin must not be empty")
	}
	if strings.TrimSpace(text) == "" {
		return Record{}, fmt.Errorf("rag: record text must not be empty (origin %q)", origin)
	}
	if chunkIndex < 0 {
		return Record{}, fmt.Errorf("rag: chunk index %d must not be negative (origin %q)", chunkIndex, origin)
	}
	if totalChunks <= chunkIndex {
		return Record{}, fmt.Errorf("rag: total chunks %d must exceed chunk index %d (origin %q)", totalChunks, chunkIndex, origin)
	}
	return Record{
		ID:          RecordID(origin, chunkIndex),
		Text:        text,
		Origin:      origin,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
		IndexedAt:   indexedAt,
	}, nil
}

// RecordID returns the stable id for a fragment of the given origin document.
func RecordID(origin string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", origin, chunkIndex)
}

// Scored is a Record plus the base similarity assigned by the store that
// returned it, normalized to [0, 1] where higher means more similar.
// Semantic stores report 1 − cosine distance; keyword stores report a bounded
// normalization of their text-match rank.
type Scored struct {
	Record

	// Similarity is the base similarity in [0, 1].
	Similarity float64
}

// Filter restricts a query to records whose origin is one of the listed
// documents. A nil Filter or empty Origins matches everything.
type Filter struct {
	// Origins lists the acceptable origin document names.
	Origins []string
}

// Matches reports whether a record with the given origin passes the filter.
func (f *Filter) Matches(origin string) bool {
	if f == nil || len(f.Origins) == 0 {
		return true
	}
	for _, o := range f.Origins {
		if o == origin {
			return true
		}
	}
	return false
}

// VectorStore is the interface for persisting fragments and answering hybrid
// queries. Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Add stores or updates a batch of records with their pre-computed
	// embeddings. The embeddings slice must be parallel to records —
	// embeddings[i] is the vector for records[i]. Upserts are idempotent
	// by record ID.
	Add(ctx context.Context, records []Record, embeddings [][]float32) error

	// Delete removes records by ID. Deletion proceeds in bounded-size
	// batches; a failed batch is logged and skipped so a single failure
	// never abandons the whole deletion.
	Delete(ctx context.Context, ids []string) error

	// QuerySemantic returns up to k records nearest to the query embedding,
	// respecting the metadata filter.
	QuerySemantic(ctx context.Context, embedding []float32, k int, filter *Filter) ([]Scored, error)

	// QueryKeyword returns up to k records ranked by text-matching score
	// against the query text, respecting the same filter.
	QueryKeyword(ctx context.Context, text string, k int, filter *Filter) ([]Scored, error)

	// AllIDs enumerates every record ID currently stored. Used by Reset.
	AllIDs(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines and are
// assumed deterministic for identical input.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// deleteBatchSize bounds how many IDs are removed per delete call so that a
// single backend failure only loses one batch.
const deleteBatchSize = 100

// batchIDs partitions ids into slices of at most deleteBatchSize.
func batchIDs(ids []string) [][]string {
	if len(ids) == 0 {
		return nil
	}
	batches := make([][]string, 0, (len(ids)+deleteBatchSize-1)/deleteBatchSize)
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}
