package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// scrollPageSize is the page size used when enumerating all record IDs.
const scrollPageSize = 256

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements the semantic side of VectorStore backed by a Qdrant
// instance. Keyword queries are not served here — compose with a KeywordIndex
// via HybridStore for the full contract.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig

	// log is the structured logger for store events.
	log *slog.Logger
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists (creating it if necessary), and returns a ready-to-use store.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig, log *slog.Logger) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if log == nil {
		log = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg, log: log}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	return nil
}

// pointID derives the deterministic Qdrant point UUID for a record ID.
// Qdrant only accepts numeric or UUID point IDs, so the logical
// "{origin}_{chunkIndex}" ID is mapped through UUIDv5 and kept verbatim in
// the payload for round-tripping.
func pointID(recordID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("acervo://fragment/"+recordID)).String()
}

// Add stores or updates a batch of records with their embeddings.
// Upserts are idempotent: re-adding the same record ID replaces the point.
func (s *QdrantStore) Add(ctx context.Context, records []Record, embeddings [][]float32) error {
	if len(records) != len(embeddings) {
		return fmt.Errorf("qdrant: %d records but %d embeddings", len(records), len(embeddings))
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for i, rec := range records {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(rec.ID)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"record_id":    rec.ID,
				"text":         rec.Text,
				"origin":       rec.Origin,
				"chunk_index":  int64(rec.ChunkIndex),
				"total_chunks": int64(rec.TotalChunks),
				"indexed_at":   rec.IndexedAt.UTC().Format(time.RFC3339),
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// QuerySemantic performs a cosine similarity search and returns up to k
// results above zero similarity, respecting the origin filter.
func (s *QdrantStore) QuerySemantic(ctx context.Context, embedding []float32, k int, filter *Filter) ([]Scored, error) {
	limit := uint64(k)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         qdrantFilter(filter),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: semantic query failed: %w", err)
	}

	scored := make([]Scored, 0, len(results))
	for _, r := range results {
		rec := recordFromPayload(r.Payload)
		// Qdrant reports cosine similarity directly for cosine collections;
		// clamp to [0, 1] so downstream scoring sees a bounded value.
		sim := float64(r.Score)
		if sim < 0 {
			sim = 0
		} else if sim > 1 {
			sim = 1
		}
		scored = append(scored, Scored{Record: rec, Similarity: sim})
	}

	return scored, nil
}

// QueryKeyword is not served by the Qdrant backend.
func (s *QdrantStore) QueryKeyword(ctx context.Context, text string, k int, filter *Filter) ([]Scored, error) {
	return nil, fmt.Errorf("qdrant: keyword queries are served by the keyword index, not the vector backend")
}

// Delete removes records by their logical IDs in bounded batches. A failed
// batch is logged and skipped; remaining batches still proceed.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	for i, batch := range batchIDs(ids) {
		pointIDs := make([]*qdrant.PointId, 0, len(batch))
		for _, id := range batch {
			pointIDs = append(pointIDs, qdrant.NewIDUUID(pointID(id)))
		}
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.cfg.Collection,
			Points:         qdrant.NewPointsSelector(pointIDs...),
		})
		if err != nil {
			s.log.Warn("qdrant: delete batch failed, skipping",
				slog.Int("batch", i),
				slog.Int("batch_size", len(batch)),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// AllIDs enumerates the logical record IDs of every stored point by
// scrolling through the collection.
func (s *QdrantStore) AllIDs(ctx context.Context) ([]string, error) {
	limit := uint32(scrollPageSize)
	seen := make(map[string]bool)
	var (
		ids    []string
		offset *qdrant.PointId
	)

	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.cfg.Collection,
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayloadInclude("record_id"),
			Offset:         offset,
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: scroll failed: %w", err)
		}

		progress := false
		for _, p := range points {
			if v, ok := p.Payload["record_id"]; ok {
				id := v.GetStringValue()
				if id != "" && !seen[id] {
					seen[id] = true
					ids = append(ids, id)
					progress = true
				}
			}
			offset = p.Id
		}

		// The last page is short, or repeats already-seen points when the
		// offset lands on the final point.
		if len(points) < scrollPageSize || !progress {
			break
		}
	}

	return ids, nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// qdrantFilter converts a Filter into a Qdrant payload filter.
func qdrantFilter(f *Filter) *qdrant.Filter {
	if f == nil || len(f.Origins) == 0 {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatchKeywords("origin", f.Origins...),
		},
	}
}

// recordFromPayload reconstructs a Record from a Qdrant point payload.
func recordFromPayload(payload map[string]*qdrant.Value) Record {
	var rec Record
	if payload == nil {
		return rec
	}
	if v, ok := payload["record_id"]; ok {
		rec.ID = v.GetStringValue()
	}
	if v, ok := payload["text"]; ok {
		rec.Text = v.GetStringValue()
	}
	if v, ok := payload["origin"]; ok {
		rec.Origin = v.GetStringValue()
	}
	if v, ok := payload["chunk_index"]; ok {
		rec.ChunkIndex = int(v.GetIntegerValue())
	}
	if v, ok := payload["total_chunks"]; ok {
		rec.TotalChunks = int(v.GetIntegerValue())
	}
	if v, ok := payload["indexed_at"]; ok {
		if ts, err := time.Parse(time.RFC3339, v.GetStringValue()); err == nil {
			rec.IndexedAt = ts
		}
	}
	return rec
}
