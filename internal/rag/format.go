package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// noResultsMessage is shown whenever a query yields nothing usable, whether
// because no fragment cleared the threshold or because retrieval failed.
const noResultsMessage = "No relevant fragments were found for the query."

// SearchFormatted runs Search and renders the results for display. Retrieval
// failures are logged and folded into the no-results message so a transient
// backend error reads like an empty answer rather than crashing the caller.
func (r *HybridRetriever) SearchFormatted(ctx context.Context, query string, topK int, filter *Filter) string {
	results, err := r.Search(ctx, query, topK, filter)
	if err != nil {
		r.log.Error("retriever: search failed", slog.Any("error", err))
		return noResultsMessage
	}
	return FormatResults(results)
}

// FormatResults renders ranked results as numbered display blocks with the
// origin document, indexing date, relevance percentage, and fragment text.
func FormatResults(results []ScoredResult) string {
	if len(results) == 0 {
		return noResultsMessage
	}

	var b strings.Builder
	for i, res := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%d] %s (fragment %d/%d)\n", i+1, res.Origin, res.ChunkIndex+1, res.TotalChunks)
		fmt.Fprintf(&b, "    Indexed: %s | Relevance: %.0f%%\n", res.IndexedAt.Format("2006-01-02"), res.FinalScore*100)
		fmt.Fprintf(&b, "    %s\n", res.Text)
	}
	return b.String()
}
