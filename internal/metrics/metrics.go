// Package metrics defines the prometheus instrumentation for indexing and
// retrieval. A Metrics handle is built against an injected Registerer so
// tests can use their own registry; all methods are safe on a nil handle,
// which disables instrumentation entirely.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "acervo"

// Metrics holds the collectors for the indexing pipeline, the embedding
// cache, and the search path.
type Metrics struct {
	documentsIndexed prometheus.Counter
	documentsSkipped prometheus.Counter
	fragmentsIndexed prometheus.Counter
	batchesFailed    prometheus.Counter

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	searchRequests *prometheus.CounterVec
	searchDuration prometheus.Histogram
}

// New registers all collectors against reg and returns the handle.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		documentsIndexed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_indexed_total",
			Help:      "Documents successfully chunked and indexed.",
		}),
		documentsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_skipped_total",
			Help:      "Documents skipped because chunking produced no fragments.",
		}),
		fragmentsIndexed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_indexed_total",
			Help:      "Fragments written to the vector store.",
		}),
		batchesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_batches_failed_total",
			Help:      "Embedding/storage batches that failed and were skipped.",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_hits_total",
			Help:      "Embeddings served from the cache.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_misses_total",
			Help:      "Embeddings computed by the model.",
		}),
		searchRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Search requests by outcome.",
		}, []string{"outcome"}),
		searchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end search latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// DocumentIndexed counts one successfully indexed document.
func (m *Metrics) DocumentIndexed() {
	if m != nil {
		m.documentsIndexed.Inc()
	}
}

// DocumentSkipped counts one document skipped for yielding no fragments.
func (m *Metrics) DocumentSkipped() {
	if m != nil {
		m.documentsSkipped.Inc()
	}
}

// FragmentsIndexed counts n fragments written to the store.
func (m *Metrics) FragmentsIndexed(n int) {
	if m != nil && n > 0 {
		m.fragmentsIndexed.Add(float64(n))
	}
}

// BatchFailed counts one failed embedding/storage batch.
func (m *Metrics) BatchFailed() {
	if m != nil {
		m.batchesFailed.Inc()
	}
}

// CacheHits counts n embedding cache hits.
func (m *Metrics) CacheHits(n int) {
	if m != nil && n > 0 {
		m.cacheHits.Add(float64(n))
	}
}

// CacheMisses counts n embedding cache misses.
func (m *Metrics) CacheMisses(n int) {
	if m != nil && n > 0 {
		m.cacheMisses.Add(float64(n))
	}
}

// SearchRequest counts one search request with its outcome label
// ("ok", "empty", or "error").
func (m *Metrics) SearchRequest(outcome string) {
	if m != nil {
		m.searchRequests.WithLabelValues(outcome).Inc()
	}
}

// ObserveSearchDuration records one search latency sample.
func (m *Metrics) ObserveSearchDuration(d time.Duration) {
	if m != nil {
		m.searchDuration.Observe(d.Seconds())
	}
}
