package rag

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"
)

// hashEmbedder is a deterministic bag-of-words embedder for tests: each word
// hashes to a dimension, and the vector is L2-normalized. Texts sharing words
// get positive cosine similarity.
type hashEmbedder struct {
	calls int
}

const hashDim = 64

func (h *hashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	h.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, hashDim)
		for _, w := range strings.Fields(strings.ToLower(text)) {
			hash := fnv.New32a()
			hash.Write([]byte(w))
			vec[hash.Sum32()%hashDim]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			scale := float32(1 / math.Sqrt(norm))
			for j := range vec {
				vec[j] *= scale
			}
		}
		out[i] = vec
	}
	return out, nil
}

func seedStore(t *testing.T, store VectorStore, emb Embedder, docs map[string][]string) {
	t.Helper()
	ctx := context.Background()
	for origin, texts := range docs {
		var records []Record
		for i, text := range texts {
			rec, err := NewRecord(origin, text, i, len(texts), time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
			if err != nil {
				t.Fatal(err)
			}
			records = append(records, rec)
		}
		embeddings, err := emb.Embed(ctx, texts)
		if err != nil {
			t.Fatal(err)
		}
		if err := store.Add(ctx, records, embeddings); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHybridRetriever_RanksMatchingDocumentFirst(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	emb := &hashEmbedder{}
	seedStore(t, store, emb, map[string][]string{
		"vacaciones.txt": {"Los empleados disponen de veintidos dias laborables de vacaciones anuales retribuidas cada ejercicio."},
		"salarios.txt":   {"La empresa revisa los salarios del personal durante el primer trimestre fiscal."},
	})

	r := NewHybridRetriever(store, emb, RankingConfig{MinSimilarity: 0.25}, slog.Default())
	results, err := r.Search(context.Background(), "dias de vacaciones", 5, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results for a matching query")
	}
	if results[0].Origin != "vacaciones.txt" {
		t.Errorf("top result origin: got %q, want vacaciones.txt", results[0].Origin)
	}
	if results[0].Provenance != ProvenanceDocument {
		t.Errorf("provenance: got %q, want %q", results[0].Provenance, ProvenanceDocument)
	}
}

func TestHybridRetriever_TopKBound(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	emb := &hashEmbedder{}
	texts := make([]string, 10)
	for i := range texts {
		texts[i] = "El reglamento de vacaciones describe los plazos y condiciones del permiso retribuido."
	}
	seedStore(t, store, emb, map[string][]string{"reglamento.txt": texts})

	r := NewHybridRetriever(store, emb, RankingConfig{MinSimilarity: 0.2}, slog.Default())
	results, err := r.Search(context.Background(), "vacaciones retribuido", 3, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) > 3 {
		t.Errorf("expected at most 3 results, got %d", len(results))
	}
}

func TestHybridRetriever_ScoresNonIncreasing(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	emb := &hashEmbedder{}
	seedStore(t, store, emb, map[string][]string{
		"a.txt": {"Las vacaciones anuales del personal se disfrutan entre junio y septiembre preferentemente."},
		"b.txt": {"Las vacaciones requieren aprobacion previa del responsable directo del departamento correspondiente."},
		"c.txt": {"El permiso sin sueldo se concede por motivos personales debidamente justificados."},
	})

	r := NewHybridRetriever(store, emb, RankingConfig{MinSimilarity: 0.1}, slog.Default())
	results, err := r.Search(context.Background(), "vacaciones del personal", 10, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for i := 1; i < len(results); i++ {
		if results[i].FinalScore > results[i-1].FinalScore {
			t.Errorf("scores must be non-increasing: result %d (%.4f) > result %d (%.4f)",
				i, results[i].FinalScore, i-1, results[i-1].FinalScore)
		}
	}
}

func TestHybridRetriever_ThresholdFiltersEverything(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	emb := &hashEmbedder{}
	seedStore(t, store, emb, map[string][]string{
		"doc.txt": {"Las vacaciones anuales se solicitan a traves del portal del empleado corporativo."},
	})

	r := NewHybridRetriever(store, emb, RankingConfig{MinSimilarity: 1.5}, slog.Default())
	results, err := r.Search(context.Background(), "vacaciones", 5, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results above an unreachable threshold, got %d", len(results))
	}

	if got := r.SearchFormatted(context.Background(), "vacaciones", 5, nil); got != noResultsMessage {
		t.Errorf("formatted output: got %q, want no-results message", got)
	}
}

func TestHybridRetriever_ZeroThresholdIsExplicit(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	emb := &hashEmbedder{}
	// No word overlap with the query, so the base similarity is 0.
	seedStore(t, store, emb, map[string][]string{
		"nominas.txt": {"El complemento de antiguedad se abona mensualmente junto al salario base."},
	})
	query := "politica sobre teletrabajo"

	r := NewHybridRetriever(store, emb, RankingConfig{MinSimilarity: 0}, slog.Default())
	results, err := r.Search(context.Background(), query, 5, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("a zero threshold must admit zero-similarity candidates: got %d results", len(results))
	}

	// Negative means unset and falls back to the default threshold.
	r = NewHybridRetriever(store, emb, RankingConfig{MinSimilarity: -1}, slog.Default())
	results, err = r.Search(context.Background(), query, 5, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("default threshold must reject zero-similarity candidates: got %d results", len(results))
	}
}

func TestHybridRetriever_EmptyQuery(t *testing.T) {
	t.Parallel()
	r := NewHybridRetriever(NewMemoryStore(), &hashEmbedder{}, DefaultRankingConfig(), slog.Default())
	results, err := r.Search(context.Background(), "   ", 5, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for blank query, got %v", results)
	}
}

func TestMergeCandidates_KeepsHigherSimilarity(t *testing.T) {
	t.Parallel()
	rec, err := NewRecord("doc.txt", "Texto compartido entre las dos listas de candidatos del sistema.", 0, 1, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	semantic := []Scored{{Record: rec, Similarity: 0.70}}
	keyword := []Scored{{Record: rec, Similarity: 0.90}}

	merged := mergeCandidates(semantic, keyword)
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged candidate, got %d", len(merged))
	}
	if merged[0].Similarity != 0.90 {
		t.Errorf("merged similarity: got %v, want 0.90", merged[0].Similarity)
	}
}

func TestSelectDiverse_PrefersDistinctOrigins(t *testing.T) {
	t.Parallel()
	mk := func(origin string, idx int, score float64) ScoredResult {
		rec, err := NewRecord(origin, "Fragmento de prueba con contenido suficiente para el registro.", idx, 10, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		return ScoredResult{Record: rec, Similarity: score, FinalScore: score}
	}
	// Score-ordered candidates: two per origin.
	candidates := []ScoredResult{
		mk("a.txt", 0, 0.95),
		mk("a.txt", 1, 0.94),
		mk("b.txt", 0, 0.93),
		mk("b.txt", 1, 0.92),
		mk("c.txt", 0, 0.91),
		mk("c.txt", 1, 0.90),
	}

	selected := selectDiverse(candidates, 3)
	if len(selected) != 3 {
		t.Fatalf("expected 3 selected, got %d", len(selected))
	}
	origins := make(map[string]bool)
	for _, s := range selected {
		if origins[s.Origin] {
			t.Errorf("duplicate origin %q selected while others were available", s.Origin)
		}
		origins[s.Origin] = true
	}
}

func TestJaccard(t *testing.T) {
	t.Parallel()
	a := wordSet("dias de vacaciones")
	b := wordSet("las vacaciones y los dias libres")
	// Intersection {dias, vacaciones} = 2; union = 3 + 6 - 2 = 7.
	want := 2.0 / 7.0
	if got := jaccard(a, b); math.Abs(got-want) > 1e-9 {
		t.Errorf("jaccard: got %v, want %v", got, want)
	}
	if got := jaccard(nil, b); got != 0 {
		t.Errorf("jaccard with empty set: got %v, want 0", got)
	}
}

func TestFormatResults(t *testing.T) {
	t.Parallel()
	rec, err := NewRecord("convenio.txt", "El convenio colectivo regula la jornada y los descansos del personal.", 0, 4,
		time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	out := FormatResults([]ScoredResult{{Record: rec, Similarity: 0.8, FinalScore: 0.75, Provenance: ProvenanceDocument}})

	for _, want := range []string{"convenio.txt", "fragment 1/4", "2026-01-15", "75%"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatted output missing %q:\n%s", want, out)
		}
	}
	if got := FormatResults(nil); got != noResultsMessage {
		t.Errorf("empty results: got %q", got)
	}
}
