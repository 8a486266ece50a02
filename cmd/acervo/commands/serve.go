package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/acervolabs/acervo/internal/indexer"
	"github.com/acervolabs/acervo/internal/logging"
	"github.com/acervolabs/acervo/internal/metrics"
	"github.com/acervolabs/acervo/internal/rag"
	"github.com/acervolabs/acervo/internal/server"
)

// NewServeCmd constructs the `acervo serve` command, which starts the HTTP
// search API for the external conversational layer.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var dir string
	var storeKind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the acervo HTTP search API",
		Long: `Start the HTTP server exposing POST /api/search, GET /healthz, and
GET /metrics.

When --dir is given the documents are (re-)indexed at startup; until that
first indexing run completes, /api/search answers 503. Without --dir the
server serves whatever the store already contains.

Set ACERVO_API_KEY to require Bearer authentication on /api routes.

Examples:
  acervo serve --dir ./docs
  acervo serve --port 9090
  acervo serve --dir ./docs --store memory`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			reg := prometheus.NewRegistry()
			met := metrics.New(reg)

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			cache := buildCache(emb, met, log)

			store, err := buildStore(ctx, storeKind, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer store.Close()

			pipeline := indexer.NewPipeline(chunkerFromEnv(log), cache, store, indexer.Config{
				BatchSize:  getEnvInt("INDEX_BATCH_SIZE", 0),
				MaxWorkers: getEnvInt("INDEX_MAX_WORKERS", 0),
			}, met, log)

			ready := pipeline.Complete
			if dir != "" {
				documents, err := loadDocumentsDir(dir, log)
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				written, err := pipeline.Index(ctx, documents)
				if err != nil {
					return fmt.Errorf("serve: startup indexing: %w", err)
				}
				log.Info("startup indexing finished",
					slog.Int("documents", len(documents)),
					slog.Int("fragments", written))
			} else {
				// No startup indexing — serve whatever the store holds.
				ready = func() bool { return true }
				log.Info("serving existing index", slog.String("hint", "pass --dir to re-index at startup"))
			}

			retriever := rag.NewHybridRetriever(store, cache, rankingFromEnv(), log)

			srv, err := server.New(retriever, ready, &server.Config{
				Host:   host,
				Port:   port,
				APIKey: os.Getenv("ACERVO_API_KEY"),
			}, met, reg, log)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", getEnvOrDefault("SERVER_HOST", "127.0.0.1"), "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", getEnvInt("SERVER_PORT", 8080), "TCP port to listen on")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory of documents to index at startup")
	cmd.Flags().StringVar(&storeKind, "store", "qdrant", "Store backend: qdrant or memory")

	return cmd
}
