package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acervolabs/acervo/internal/logging"
)

// NewCacheCmd constructs the `acervo cache` command group for embedding
// cache maintenance.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the on-disk embedding cache",
	}
	cmd.AddCommand(newCacheClearCmd(), newCacheInfoCmd())
	return cmd
}

// newCacheClearCmd constructs `acervo cache clear`, which empties the
// embedding cache and persists the empty state.
func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the embedding cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			cache := buildCache(nil, nil, log)
			before := cache.Len()
			if err := cache.Clear(); err != nil {
				return fmt.Errorf("cache clear: %w", err)
			}
			fmt.Printf("Cleared %d cached embeddings.\n", before)
			return nil
		},
	}
}

// newCacheInfoCmd constructs `acervo cache info`, which reports the current
// cache size.
func newCacheInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show embedding cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			cache := buildCache(nil, nil, log)
			fmt.Printf("Cached embeddings: %d\n", cache.Len())
			return nil
		},
	}
}
