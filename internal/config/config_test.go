package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
embedding:
  provider: ollama
  model: nomic-embed-text
  rps: 8.5
qdrant:
  host: qdrant.internal
  port: 6334
  collection: acervo-docs
chunker:
  target_sentences: 3
  min_words: 10
  max_words: 150
ranking:
  min_similarity: 0.65
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_RPS",
		"QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION",
		"CHUNK_TARGET_SENTENCES", "CHUNK_MIN_WORDS", "CHUNK_MAX_WORDS",
		"RANK_MIN_SIMILARITY",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"EMBEDDING_PROVIDER":     "ollama",
		"EMBEDDING_MODEL":        "nomic-embed-text",
		"EMBEDDING_RPS":          "8.5",
		"QDRANT_HOST":            "qdrant.internal",
		"QDRANT_PORT":            "6334",
		"QDRANT_COLLECTION":      "acervo-docs",
		"CHUNK_TARGET_SENTENCES": "3",
		"CHUNK_MIN_WORDS":        "10",
		"CHUNK_MAX_WORDS":        "150",
		"RANK_MIN_SIMILARITY":    "0.65",
		"LOG_LEVEL":              "debug",
		"LOG_FORMAT":             "text",
	}
	for key, want := range checks {
		if got := os.Getenv(key); got != want {
			t.Errorf("%s: got %q, want %q", key, got, want)
		}
	}
}

func TestLoad_EnvWins(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
qdrant:
  host: from-yaml
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("QDRANT_HOST", "from-env")

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := os.Getenv("QDRANT_HOST"); got != "from-env" {
		t.Errorf("env var should win over YAML: got %q", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("qdrant: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath, slog.Default()); err == nil {
		t.Fatal("expected parse error, got nil")
	}
}
