// Package commands defines all Cobra CLI commands for the acervo binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/acervolabs/acervo/internal/audit"
	"github.com/acervolabs/acervo/internal/config"
	"github.com/acervolabs/acervo/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "acervo",
		Short: "Acervo — hybrid semantic search over institutional documents",
		Long: `Acervo indexes institutional documents (HR policies, internal
regulations, manuals) into a hybrid vector/keyword store and answers
natural-language queries with ranked, diversity-aware document fragments.

The embedding backend is selected via the EMBEDDING_PROVIDER environment
variable or a YAML config file (~/.acervo/config.yaml).
See 'acervo --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.acervo/config.yaml)")

	root.AddCommand(
		NewIndexCmd(),
		NewSearchCmd(),
		NewServeCmd(),
		NewCacheCmd(),
		NewVersionCmd(),
	)

	return root
}
