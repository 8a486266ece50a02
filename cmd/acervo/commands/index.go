package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/acervolabs/acervo/internal/indexer"
	"github.com/acervolabs/acervo/internal/logging"
)

// NewIndexCmd constructs the `acervo index` command, which re-indexes a
// directory of documents into the hybrid store from scratch.
func NewIndexCmd() *cobra.Command {
	var dir string
	var storeKind string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index a directory of documents into the hybrid store",
		Long: `Re-index documents into the vector/keyword store from scratch.

The store is reset first, then every *.txt and *.md file directly under
--dir is chunked, embedded, and stored. Previously computed embeddings are
reused from the on-disk cache, so re-indexing unchanged documents performs
no embedding calls.

Relevant environment variables (or their YAML config equivalents):
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: acervo-docs)
  ACERVO_KEYWORD_DB    SQLite keyword index path (default: ~/.acervo/keyword.db)
  ACERVO_CACHE_PATH    Embedding cache path (default: ~/.acervo/embeddings.json)
  EMBEDDING_PROVIDER   Embedding backend: ollama, openai (default: ollama)
  CHUNK_* / INDEX_*    Chunking and batching overrides

Examples:
  acervo index --dir ./docs
  acervo index --dir ./docs --store memory
  EMBEDDING_PROVIDER=openai acervo index --dir /srv/policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if dir == "" {
				return fmt.Errorf("index: --dir is required")
			}

			documents, err := loadDocumentsDir(dir, log)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			log.Info("documents loaded", slog.Int("count", len(documents)), slog.String("dir", dir))

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			cache := buildCache(emb, nil, log)

			store, err := buildStore(ctx, storeKind, log)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer store.Close()

			pipeline := indexer.NewPipeline(chunkerFromEnv(log), cache, store, indexer.Config{
				BatchSize:  getEnvInt("INDEX_BATCH_SIZE", 0),
				MaxWorkers: getEnvInt("INDEX_MAX_WORKERS", 0),
			}, nil, log)

			written, err := pipeline.Index(ctx, documents)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			fmt.Printf("Indexed %d fragments from %d documents.\n", written, len(documents))
			if !pipeline.Complete() {
				fmt.Println("Warning: no fragments were written — the index is empty.")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory of .txt/.md documents to index")
	cmd.Flags().StringVar(&storeKind, "store", "qdrant", "Store backend: qdrant or memory")

	return cmd
}
