package embedder

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/acervolabs/acervo/internal/rag"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := ollamaEmbedResponse{Embeddings: make([][]float32, len(req.Input))}
		for i := range req.Input {
			resp.Embeddings[i] = []float32{float32(i), 1}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	vecs, err := emb.Embed(context.Background(), []string{"uno", "dos"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
}

func TestOllamaEmbedder_TrailingSlashHost(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1, 2}}})
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL + "/", Model: "nomic-embed-text"})
	if _, err := emb.Embed(context.Background(), []string{"texto"}); err != nil {
		t.Fatalf("embed with trailing-slash host: %v", err)
	}
}

func TestOllamaEmbedder_EmptyBatchSkipsRequest(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty batch")
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	vecs, err := emb.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 0 {
		t.Errorf("expected no vectors, got %d", len(vecs))
	}
}

func TestOllamaEmbedder_EmptyVectorIsError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1, 2}, {}}})
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	if _, err := emb.Embed(context.Background(), []string{"uno", "dos"}); err == nil {
		t.Fatal("expected error for empty embedding vector")
	}
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Error: "model not found"})
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "missing"})
	if _, err := emb.Embed(context.Background(), []string{"texto"}); err == nil {
		t.Fatal("expected error from failing server")
	}
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header: %q", got)
		}
		var req openaiEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		// Return data out of order to exercise index placement.
		resp := map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{2, 2}, "index": 1},
				{"embedding": []float32{1, 1}, "index": 0},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "text-embedding-3-small"})
	vecs, err := emb.Embed(context.Background(), []string{"uno", "dos"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Errorf("vectors not re-ordered by index: %v", vecs)
	}
}

func TestNewFromEnv_DefaultsToOllama(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "")
	t.Setenv("EMBEDDING_RPS", "")

	emb, err := NewFromEnv()
	if err != nil {
		t.Fatalf("new from env: %v", err)
	}
	if _, ok := emb.(*OllamaEmbedder); !ok {
		t.Errorf("expected *OllamaEmbedder, got %T", emb)
	}
}

func TestNewFromEnv_OpenAIRequiresKey(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := NewFromEnv(); err == nil {
		t.Fatal("expected error for openai without API key")
	}
}

func TestNewFromEnv_UnknownBackend(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "cohere")
	if _, err := NewFromEnv(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewFromEnv_RPSWrapsWithLimiter(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "ollama")
	t.Setenv("EMBEDDING_RPS", "4")

	emb, err := NewFromEnv()
	if err != nil {
		t.Fatalf("new from env: %v", err)
	}
	if _, ok := emb.(*RateLimited); !ok {
		t.Errorf("expected *RateLimited, got %T", emb)
	}
}

// stubEmbedder counts calls and records their times.
type stubEmbedder struct {
	mu    sync.Mutex
	times []time.Time
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.times = append(s.times, time.Now())
	s.mu.Unlock()
	return make([][]float32, len(texts)), nil
}

var _ rag.Embedder = (*RateLimited)(nil)

func TestRateLimited_SpacesRequests(t *testing.T) {
	t.Parallel()
	stub := &stubEmbedder{}
	limited := NewRateLimited(stub, 20) // 50ms between requests

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := limited.Embed(ctx, []string{"x"}); err != nil {
			t.Fatalf("embed: %v", err)
		}
	}
	// Burst of 1 means the 3 calls need at least two 50ms waits.
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("3 calls at 20 rps finished in %v; expected ≥ ~100ms", elapsed)
	}
	if len(stub.times) != 3 {
		t.Errorf("inner calls: got %d, want 3", len(stub.times))
	}
}

func TestRateLimited_ContextCancellation(t *testing.T) {
	t.Parallel()
	limited := NewRateLimited(&stubEmbedder{}, 0.001)

	// Consume the single burst slot.
	if _, err := limited.Embed(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("first embed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := limited.Embed(ctx, []string{"y"}); err == nil {
		t.Fatal("expected context deadline error while waiting for limiter")
	}
}

func TestValidate_ChatModelWarnsButPasses(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "ollama")
	t.Setenv("EMBEDDING_MODEL", "llama3")

	if err := Validate(discardLogger()); err != nil {
		t.Fatalf("validate should warn, not fail: %v", err)
	}
}

func TestValidate_OpenAIMissingKey(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	if err := Validate(discardLogger()); err == nil {
		t.Fatal("expected validation error for openai without key")
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"gpt-4o":                 true,
		"llama3:8b":              true,
		"nomic-embed-text":       false,
		"text-embedding-3-small": false,
	}
	for model, want := range cases {
		if got := looksLikeChatModel(model); got != want {
			t.Errorf("looksLikeChatModel(%q): got %v, want %v", model, got, want)
		}
	}
}
