// Package config provides YAML-based configuration for acervo.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. ACERVO_CONFIG environment variable
//  3. ~/.acervo/config.yaml
//  4. ./acervo.yaml
//
// If no file is found the system runs entirely from env vars (backwards compatible).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Keyword configures the SQLite keyword index.
	Keyword KeywordConfig `yaml:"keyword"`

	// Cache configures the on-disk embedding cache.
	Cache CacheConfig `yaml:"cache"`

	// Chunker configures the document chunker.
	Chunker ChunkerConfig `yaml:"chunker"`

	// Indexer configures the indexing pipeline.
	Indexer IndexerConfig `yaml:"indexer"`

	// Ranking configures the hybrid retrieval scoring.
	Ranking RankingConfig `yaml:"ranking"`

	// Server configures the HTTP search server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// RPS caps embedding requests per second (0 = unlimited).
	RPS float32 `yaml:"rps"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// KeywordConfig holds the SQLite keyword index settings.
type KeywordConfig struct {
	// DBPath is the SQLite database path for the FTS5 keyword index.
	DBPath string `yaml:"db_path"`
}

// CacheConfig holds the embedding cache settings.
type CacheConfig struct {
	// Path is the JSON file the embedding cache persists to.
	Path string `yaml:"path"`
}

// ChunkerConfig holds document chunking settings.
type ChunkerConfig struct {
	// TargetSentences is the sentence count that triggers a fragment flush.
	TargetSentences int `yaml:"target_sentences"`
	// MinWords is the minimum word count for a fragment to be kept.
	MinWords int `yaml:"min_words"`
	// MaxWords is the maximum word count per fragment.
	MaxWords int `yaml:"max_words"`
	// OverlapSentences is the number of sentences carried between fragments.
	OverlapSentences int `yaml:"overlap_sentences"`
}

// IndexerConfig holds indexing pipeline settings.
type IndexerConfig struct {
	// BatchSize is the number of fragments embedded and written per batch.
	BatchSize int `yaml:"batch_size"`
	// MaxWorkers bounds the number of concurrent batch tasks.
	MaxWorkers int `yaml:"max_workers"`
}

// RankingConfig holds hybrid retrieval scoring settings.
type RankingConfig struct {
	// SemanticWeight is the weight of the semantic similarity term.
	SemanticWeight float32 `yaml:"semantic_weight"`
	// LengthWeight is the weight of the fragment length term.
	LengthWeight float32 `yaml:"length_weight"`
	// KeywordWeight is the weight of the keyword overlap term.
	KeywordWeight float32 `yaml:"keyword_weight"`
	// MinSimilarity discards candidates below this base similarity.
	MinSimilarity float32 `yaml:"min_similarity"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var ACERVO_API_KEY.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_RPS", func(c *Config) string { return float32Str(c.Embedding.RPS) }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"ACERVO_KEYWORD_DB", func(c *Config) string { return c.Keyword.DBPath }},
	{"ACERVO_CACHE_PATH", func(c *Config) string { return c.Cache.Path }},
	{"CHUNK_TARGET_SENTENCES", func(c *Config) string { return intStr(c.Chunker.TargetSentences) }},
	{"CHUNK_MIN_WORDS", func(c *Config) string { return intStr(c.Chunker.MinWords) }},
	{"CHUNK_MAX_WORDS", func(c *Config) string { return intStr(c.Chunker.MaxWords) }},
	{"CHUNK_OVERLAP_SENTENCES", func(c *Config) string { return intStr(c.Chunker.OverlapSentences) }},
	{"INDEX_BATCH_SIZE", func(c *Config) string { return intStr(c.Indexer.BatchSize) }},
	{"INDEX_MAX_WORKERS", func(c *Config) string { return intStr(c.Indexer.MaxWorkers) }},
	{"RANK_SEMANTIC_WEIGHT", func(c *Config) string { return float32Str(c.Ranking.SemanticWeight) }},
	{"RANK_LENGTH_WEIGHT", func(c *Config) string { return float32Str(c.Ranking.LengthWeight) }},
	{"RANK_KEYWORD_WEIGHT", func(c *Config) string { return float32Str(c.Ranking.KeywordWeight) }},
	{"RANK_MIN_SIMILARITY", func(c *Config) string { return float32Str(c.Ranking.MinSimilarity) }},
	{"SERVER_HOST", func(c *Config) string { return c.Server.Host }},
	{"SERVER_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"ACERVO_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("ACERVO_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".acervo", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("acervo.yaml"); err == nil {
		return "acervo.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
