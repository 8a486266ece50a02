// Package indexer implements the full-reindex pipeline: reset the store,
// chunk every document, embed the fragments in batches on a bounded worker
// pool, and persist them. A failed batch never aborts the run — it is logged
// and the remaining batches proceed.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acervolabs/acervo/internal/chunker"
	"github.com/acervolabs/acervo/internal/embedcache"
	"github.com/acervolabs/acervo/internal/metrics"
	"github.com/acervolabs/acervo/internal/rag"
)

// Defaults for the batching worker pool.
const (
	DefaultBatchSize  = 32
	DefaultMaxWorkers = 4
)

// Config tunes the pipeline's batching and concurrency.
type Config struct {
	// BatchSize is the number of fragments embedded and stored per task.
	BatchSize int

	// MaxWorkers bounds the number of concurrently running batch tasks.
	MaxWorkers int
}

// Pipeline turns raw documents into stored, embedded fragments.
type Pipeline struct {
	chunker *chunker.Chunker
	cache   *embedcache.Cache
	store   rag.VectorStore
	cfg     Config
	met     *metrics.Metrics
	log     *slog.Logger

	complete atomic.Bool
}

// NewPipeline builds a pipeline. Zero-valued cfg fields fall back to the
// defaults.
func NewPipeline(ch *chunker.Chunker, cache *embedcache.Cache, store rag.VectorStore, cfg Config, met *metrics.Metrics, log *slog.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		chunker: ch,
		cache:   cache,
		store:   store,
		cfg:     cfg,
		met:     met,
		log:     log,
	}
}

// Complete reports whether the last Index run wrote at least one fragment.
// Callers gate querying on it so searches never run against an empty store.
func (p *Pipeline) Complete() bool {
	return p.complete.Load()
}

// batch is one unit of work: a slice of records from a single document.
type batch struct {
	origin  string
	ordinal int
	records []rag.Record
}

// Index re-indexes the given documents (name → full text) from scratch. It
// resets the store first, then chunks, embeds, and stores every document's
// fragments. The embedding cache is persisted at the end. Returns the number
// of fragments written.
func (p *Pipeline) Index(ctx context.Context, documents map[string]string) (int, error) {
	p.complete.Store(false)

	if err := rag.Reset(ctx, p.store, p.log); err != nil {
		return 0, fmt.Errorf("indexer: %w", err)
	}

	// Deterministic document order keeps runs and logs reproducible.
	origins := make([]string, 0, len(documents))
	for origin := range documents {
		origins = append(origins, origin)
	}
	sort.Strings(origins)

	now := time.Now().UTC()
	var batches []batch
	for _, origin := range origins {
		fragments := p.chunker.Chunk(documents[origin])
		if len(fragments) == 0 {
			p.log.Warn("indexer: document produced no fragments, skipping",
				slog.String("document", origin))
			p.met.DocumentSkipped()
			continue
		}

		records := make([]rag.Record, 0, len(fragments))
		for i, text := range fragments {
			rec, err := rag.NewRecord(origin, text, i, len(fragments), now)
			if err != nil {
				return 0, fmt.Errorf("indexer: %w", err)
			}
			records = append(records, rec)
		}

		for ordinal, start := 0, 0; start < len(records); ordinal, start = ordinal+1, start+p.cfg.BatchSize {
			end := start + p.cfg.BatchSize
			if end > len(records) {
				end = len(records)
			}
			batches = append(batches, batch{origin: origin, ordinal: ordinal, records: records[start:end]})
		}

		p.met.DocumentIndexed()
		p.log.Info("indexer: document chunked",
			slog.String("document", origin),
			slog.Int("fragments", len(fragments)))
	}

	written := p.runBatches(ctx, batches)

	if err := p.cache.Save(); err != nil {
		p.log.Warn("indexer: saving embedding cache failed", slog.Any("error", err))
	}

	p.complete.Store(written > 0)
	p.log.Info("indexer: run finished",
		slog.Int("documents", len(origins)),
		slog.Int("fragments_written", written),
		slog.Bool("complete", p.Complete()))
	return written, nil
}

// runBatches dispatches batches in order onto a bounded worker pool and
// returns the total number of fragments successfully stored.
func (p *Pipeline) runBatches(ctx context.Context, batches []batch) int {
	var (
		wg      sync.WaitGroup
		sem     = make(chan struct{}, p.cfg.MaxWorkers)
		written atomic.Int64
	)

	for _, b := range batches {
		select {
		case <-ctx.Done():
			p.log.Warn("indexer: context cancelled, abandoning remaining batches",
				slog.Any("error", ctx.Err()))
			wg.Wait()
			return int(written.Load())
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(b batch) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := p.processBatch(ctx, b); err != nil {
				p.log.Error("indexer: batch failed, skipping",
					slog.String("document", b.origin),
					slog.Int("batch", b.ordinal),
					slog.Int("fragments", len(b.records)),
					slog.Any("error", err))
				p.met.BatchFailed()
				return
			}
			written.Add(int64(len(b.records)))
			p.met.FragmentsIndexed(len(b.records))
		}(b)
	}

	wg.Wait()
	return int(written.Load())
}

// processBatch embeds one batch through the cache and stores it.
func (p *Pipeline) processBatch(ctx context.Context, b batch) error {
	texts := make([]string, len(b.records))
	for i, rec := range b.records {
		texts[i] = rec.Text
	}

	embeddings, err := p.cache.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if err := p.store.Add(ctx, b.records, embeddings); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}
