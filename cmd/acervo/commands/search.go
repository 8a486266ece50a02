package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acervolabs/acervo/internal/logging"
	"github.com/acervolabs/acervo/internal/rag"
)

// NewSearchCmd constructs the `acervo search` command, which answers a
// one-shot query against the indexed documents.
func NewSearchCmd() *cobra.Command {
	var topK int
	var origins []string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed documents with a natural-language query",
		Long: `Run a hybrid (semantic + keyword) search over the indexed documents and
print the ranked fragments with their origin, indexing date, and relevance.

Examples:
  acervo search "cuantos dias de vacaciones tengo"
  acervo search --top-k 3 "politica de teletrabajo"
  acervo search --origin convenio.txt "jornada laboral"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			query := args[0]

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			cache := buildCache(emb, nil, log)

			store, err := buildStore(ctx, "qdrant", log)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer store.Close()

			var filter *rag.Filter
			if len(origins) > 0 {
				filter = &rag.Filter{Origins: origins}
			}

			retriever := rag.NewHybridRetriever(store, cache, rankingFromEnv(), log)
			fmt.Println(retriever.SearchFormatted(ctx, query, topK, filter))
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "Maximum number of results")
	cmd.Flags().StringArrayVar(&origins, "origin", nil, "Restrict results to this document name (repeatable)")

	return cmd
}
