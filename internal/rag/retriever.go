package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Default ranking parameters. The weights reproduce the canonical scoring
// formula; MinSimilarity is the admission threshold applied before scoring.
const (
	DefaultSemanticWeight = 0.5
	DefaultLengthWeight   = 0.3
	DefaultKeywordWeight  = 0.2
	DefaultMinSimilarity  = 0.65
	DefaultMaxChunkWords  = 150

	// Candidate pool multipliers: each backend is asked for more than topK
	// so the merge and diversity passes have material to work with.
	semanticCandidateFactor = 3
	keywordCandidateFactor  = 4
)

// RankingConfig tunes the hybrid scoring formula.
type RankingConfig struct {
	// SemanticWeight scales the store similarity term.
	SemanticWeight float64

	// LengthWeight scales the fragment-length term, which saturates at
	// MaxChunkWords words.
	LengthWeight float64

	// KeywordWeight scales the query/fragment word-overlap (Jaccard) term.
	KeywordWeight float64

	// MinSimilarity is the minimum base similarity a candidate needs to be
	// scored at all. Zero admits every candidate; a negative value selects
	// the default threshold.
	MinSimilarity float64

	// MaxChunkWords is the word count at which the length term saturates.
	// It should match the chunker's MaxWords.
	MaxChunkWords int
}

// DefaultRankingConfig returns the canonical weights and threshold.
func DefaultRankingConfig() RankingConfig {
	return RankingConfig{
		SemanticWeight: DefaultSemanticWeight,
		LengthWeight:   DefaultLengthWeight,
		KeywordWeight:  DefaultKeywordWeight,
		MinSimilarity:  DefaultMinSimilarity,
		MaxChunkWords:  DefaultMaxChunkWords,
	}
}

// ScoredResult is one ranked retrieval hit.
type ScoredResult struct {
	Record

	// Similarity is the base store similarity in [0, 1].
	Similarity float64

	// FinalScore is the combined ranking score; results are ordered by it.
	FinalScore float64

	// Provenance tags where the result came from (ProvenanceDocument for
	// indexed fragments).
	Provenance string
}

// HybridRetriever answers natural-language queries by merging semantic and
// keyword candidates from a VectorStore and re-ranking them.
type HybridRetriever struct {
	store    VectorStore
	embedder Embedder
	cfg      RankingConfig
	log      *slog.Logger
}

// NewHybridRetriever builds a retriever over the given store and embedder.
// All-zero weights and non-positive MaxChunkWords fall back to the defaults;
// MinSimilarity falls back only when negative, so a zero threshold stays an
// explicit choice.
func NewHybridRetriever(store VectorStore, embedder Embedder, cfg RankingConfig, log *slog.Logger) *HybridRetriever {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SemanticWeight == 0 && cfg.LengthWeight == 0 && cfg.KeywordWeight == 0 {
		def := DefaultRankingConfig()
		cfg.SemanticWeight = def.SemanticWeight
		cfg.LengthWeight = def.LengthWeight
		cfg.KeywordWeight = def.KeywordWeight
	}
	if cfg.MinSimilarity < 0 {
		cfg.MinSimilarity = DefaultMinSimilarity
	}
	if cfg.MaxChunkWords <= 0 {
		cfg.MaxChunkWords = DefaultMaxChunkWords
	}
	return &HybridRetriever{store: store, embedder: embedder, cfg: cfg, log: log}
}

// Search runs the hybrid retrieval pipeline: embed the query, gather
// semantic and keyword candidates, merge and threshold them, score, and
// select up to topK results favoring origin diversity. The returned slice is
// ordered by FinalScore descending.
func (r *HybridRetriever) Search(ctx context.Context, query string, topK int, filter *Filter) ([]ScoredResult, error) {
	query = strings.TrimSpace(query)
	if query == "" || topK <= 0 {
		return nil, nil
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retriever: embed query: %w", err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("retriever: expected 1 query embedding, got %d", len(embeddings))
	}

	semantic, err := r.store.QuerySemantic(ctx, embeddings[0], topK*semanticCandidateFactor, filter)
	if err != nil {
		return nil, fmt.Errorf("retriever: semantic query: %w", err)
	}
	keyword, err := r.store.QueryKeyword(ctx, query, topK*keywordCandidateFactor, filter)
	if err != nil {
		// Keyword candidates enrich ranking but the semantic side alone
		// still answers the query.
		r.log.Warn("retriever: keyword query failed, continuing with semantic candidates",
			slog.Any("error", err))
		keyword = nil
	}

	candidates := mergeCandidates(semantic, keyword)

	queryWords := wordSet(query)
	var scored []ScoredResult
	for _, c := range candidates {
		if c.Similarity < r.cfg.MinSimilarity {
			continue
		}
		scored = append(scored, ScoredResult{
			Record:     c.Record,
			Similarity: c.Similarity,
			FinalScore: r.score(c, queryWords),
			Provenance: ProvenanceDocument,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].FinalScore > scored[j].FinalScore
	})

	selected := selectDiverse(scored, topK)

	// The diversity walk picks the set; the caller still sees strict score order.
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].FinalScore > selected[j].FinalScore
	})

	r.log.Debug("retriever: search complete",
		slog.Int("semantic_candidates", len(semantic)),
		slog.Int("keyword_candidates", len(keyword)),
		slog.Int("results", len(selected)),
	)
	return selected, nil
}

// score combines base similarity, fragment length, and query word overlap.
func (r *HybridRetriever) score(c Scored, queryWords map[string]struct{}) float64 {
	lengthTerm := float64(len(strings.Fields(c.Text))) / float64(r.cfg.MaxChunkWords)
	if lengthTerm > 1 {
		lengthTerm = 1
	}
	return r.cfg.SemanticWeight*c.Similarity +
		r.cfg.LengthWeight*lengthTerm +
		r.cfg.KeywordWeight*jaccard(queryWords, wordSet(c.Text))
}

// mergeCandidates deduplicates by record ID keeping the higher base
// similarity. Semantic candidates are inserted first so they win ties.
func mergeCandidates(semantic, keyword []Scored) []Scored {
	byID := make(map[string]int, len(semantic)+len(keyword))
	var merged []Scored
	for _, lists := range [][]Scored{semantic, keyword} {
		for _, c := range lists {
			if i, ok := byID[c.ID]; ok {
				if c.Similarity > merged[i].Similarity {
					merged[i].Similarity = c.Similarity
				}
				continue
			}
			byID[c.ID] = len(merged)
			merged = append(merged, c)
		}
	}
	return merged
}

// selectDiverse walks the score-ordered candidates preferring unseen origins
// until every candidate origin is represented (or topK is reached), then
// fills remaining slots in strict score order.
func selectDiverse(candidates []ScoredResult, topK int) []ScoredResult {
	if len(candidates) <= topK {
		return candidates
	}

	origins := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		origins[c.Origin] = struct{}{}
	}

	selected := make([]ScoredResult, 0, topK)
	taken := make(map[int]bool, topK)
	seenOrigins := make(map[string]struct{}, len(origins))

	for i, c := range candidates {
		if len(selected) == topK || len(seenOrigins) == len(origins) {
			break
		}
		if _, seen := seenOrigins[c.Origin]; seen {
			continue
		}
		seenOrigins[c.Origin] = struct{}{}
		taken[i] = true
		selected = append(selected, c)
	}

	for i, c := range candidates {
		if len(selected) == topK {
			break
		}
		if !taken[i] {
			selected = append(selected, c)
		}
	}
	return selected
}

// wordSet lowercases and tokenizes text into a set of words.
func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		set[tok] = struct{}{}
	}
	return set
}

// jaccard is |a ∩ b| / |a ∪ b| over word sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
