package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/acervolabs/acervo/internal/rag"
)

// defaultTopK is the result count when the request does not specify one.
const defaultTopK = 5

// searchRequest is the JSON body of POST /api/search.
type searchRequest struct {
	// Query is the natural-language query text.
	Query string `json:"query"`

	// TopK is the maximum number of results (default 5).
	TopK int `json:"top_k,omitempty"`

	// Origins optionally restricts results to these document names.
	Origins []string `json:"origins,omitempty"`
}

// searchResult is one ranked hit in the response.
type searchResult struct {
	ID          string  `json:"id"`
	Origin      string  `json:"origin"`
	ChunkIndex  int     `json:"chunk_index"`
	TotalChunks int     `json:"total_chunks"`
	IndexedAt   string  `json:"indexed_at"`
	Text        string  `json:"text"`
	Similarity  float64 `json:"similarity"`
	Score       float64 `json:"score"`
	Provenance  string  `json:"provenance"`
}

// searchResponse is the JSON body returned by POST /api/search.
type searchResponse struct {
	Query   string         `json:"query"`
	Results []searchResult `json:"results"`
	Message string         `json:"message,omitempty"`
}

// handleSearch handles POST /api/search. Retrieval failures are folded into
// an empty result set with an explanatory message — the conversational layer
// treats them the same as "nothing found".
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		s.met.SearchRequest("not_ready")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "index not ready — run indexing first",
		})
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.met.SearchRequest("bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Query == "" {
		s.met.SearchRequest("bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	if req.TopK <= 0 {
		req.TopK = defaultTopK
	}

	var filter *rag.Filter
	if len(req.Origins) > 0 {
		filter = &rag.Filter{Origins: req.Origins}
	}

	start := time.Now()
	results, err := s.retriever.Search(r.Context(), req.Query, req.TopK, filter)
	s.met.ObserveSearchDuration(time.Since(start))

	resp := searchResponse{Query: req.Query, Results: []searchResult{}}
	switch {
	case err != nil:
		s.log.Error("server: search failed", slog.Any("error", err))
		s.met.SearchRequest("error")
		resp.Message = "No relevant fragments were found for the query."
	case len(results) == 0:
		s.met.SearchRequest("empty")
		resp.Message = "No relevant fragments were found for the query."
	default:
		s.met.SearchRequest("ok")
		for _, res := range results {
			resp.Results = append(resp.Results, searchResult{
				ID:          res.ID,
				Origin:      res.Origin,
				ChunkIndex:  res.ChunkIndex,
				TotalChunks: res.TotalChunks,
				IndexedAt:   res.IndexedAt.Format(time.RFC3339),
				Text:        res.Text,
				Similarity:  res.Similarity,
				Score:       res.FinalScore,
				Provenance:  res.Provenance,
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleHealthz handles GET /healthz for liveness checks. It reports the
// index readiness without failing the probe, so orchestrators keep the
// process alive while the first indexing run is still in flight.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"ready":  s.ready(),
	})
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
