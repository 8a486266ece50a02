package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/acervolabs/acervo/internal/chunker"
	"github.com/acervolabs/acervo/internal/embedcache"
	"github.com/acervolabs/acervo/internal/embedder"
	"github.com/acervolabs/acervo/internal/metrics"
	"github.com/acervolabs/acervo/internal/rag"
)

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat returns the float value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// acervoHomePath joins name under ~/.acervo, falling back to the working
// directory when the home directory cannot be resolved.
func acervoHomePath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".acervo", name)
}

// buildEmbedder validates the embedding configuration and constructs the
// embedder from the environment.
func buildEmbedder(log *slog.Logger) (rag.Embedder, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("provider", embedder.Backend()))
	return emb, nil
}

// buildCache wraps the embedder with the persistent embedding cache and
// loads any previously saved entries.
func buildCache(emb rag.Embedder, met *metrics.Metrics, log *slog.Logger) *embedcache.Cache {
	path := getEnvOrDefault("ACERVO_CACHE_PATH", acervoHomePath("embeddings.json"))
	cache := embedcache.New(emb, path, met, log)
	cache.Load()
	return cache
}

// buildStore constructs the vector store for the given kind: "qdrant"
// (hybrid qdrant + SQLite FTS5, the default) or "memory" (in-process, no
// external services).
func buildStore(ctx context.Context, kind string, log *slog.Logger) (rag.VectorStore, error) {
	switch kind {
	case "memory":
		log.Info("store: using in-memory backend")
		return rag.NewMemoryStore(), nil

	case "qdrant", "":
		host := getEnvOrDefault("QDRANT_HOST", "localhost")
		port := getEnvInt("QDRANT_PORT", 6334)
		collection := getEnvOrDefault("QDRANT_COLLECTION", "acervo-docs")
		vectorSize := uint64(embedder.DefaultDimensions(embedder.Backend()))

		vectors, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
			Host:       host,
			Port:       port,
			Collection: collection,
			VectorSize: vectorSize,
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
		}
		log.Info("qdrant store ready",
			slog.String("host", host),
			slog.Int("port", port),
			slog.String("collection", collection))

		dbPath := getEnvOrDefault("ACERVO_KEYWORD_DB", acervoHomePath("keyword.db"))
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				_ = vectors.Close()
				return nil, fmt.Errorf("failed to create keyword index dir: %w", err)
			}
		}
		keywords, err := rag.OpenKeywordIndex(dbPath, log)
		if err != nil {
			_ = vectors.Close()
			return nil, fmt.Errorf("failed to open keyword index at %s: %w", dbPath, err)
		}
		log.Info("keyword index ready", slog.String("path", dbPath))

		return rag.NewHybridStore(vectors, keywords, log), nil

	default:
		return nil, fmt.Errorf("unknown store kind %q (valid values: qdrant, memory)", kind)
	}
}

// chunkerFromEnv builds the chunker from CHUNK_* environment variables.
func chunkerFromEnv(log *slog.Logger) *chunker.Chunker {
	return chunker.New(&chunker.Config{
		TargetSentences:  getEnvInt("CHUNK_TARGET_SENTENCES", 0),
		MinWords:         getEnvInt("CHUNK_MIN_WORDS", 0),
		MaxWords:         getEnvInt("CHUNK_MAX_WORDS", 0),
		OverlapSentences: getEnvInt("CHUNK_OVERLAP_SENTENCES", -1),
	}, log)
}

// rankingFromEnv builds the retrieval ranking config from RANK_* environment
// variables, with the canonical defaults.
func rankingFromEnv() rag.RankingConfig {
	return rag.RankingConfig{
		SemanticWeight: getEnvFloat("RANK_SEMANTIC_WEIGHT", rag.DefaultSemanticWeight),
		LengthWeight:   getEnvFloat("RANK_LENGTH_WEIGHT", rag.DefaultLengthWeight),
		KeywordWeight:  getEnvFloat("RANK_KEYWORD_WEIGHT", rag.DefaultKeywordWeight),
		// -1 means unset; RANK_MIN_SIMILARITY=0 is a valid explicit threshold.
		MinSimilarity:  getEnvFloat("RANK_MIN_SIMILARITY", -1),
		MaxChunkWords:  getEnvInt("CHUNK_MAX_WORDS", rag.DefaultMaxChunkWords),
	}
}

// loadDocumentsDir reads every *.txt and *.md file directly under dir into a
// name → text mapping. Subdirectories are not descended into.
func loadDocumentsDir(dir string, log *slog.Logger) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read documents dir %s: %w", dir, err)
	}

	documents := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".txt" && ext != ".md" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Warn("skipping unreadable document",
				slog.String("file", name), slog.Any("error", err))
			continue
		}
		documents[name] = string(data)
	}
	if len(documents) == 0 {
		return nil, fmt.Errorf("no .txt or .md documents found in %s", dir)
	}
	return documents, nil
}
