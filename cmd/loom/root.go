// Package cli implements the loom command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/loomapp/loom/internal/config"
)

var rootConfig *config.Config

// SetupRootCmd builds the command tree with the loaded configuration.
func SetupRootCmd(cfg *config.Config) *cobra.Command {
	rootConfig = cfg

	root := &cobra.Command{
		Use:   "loom",
		Short: "Loom is a conversation agent for your terminal",
		Long: `Loom runs a tool-using AI agent against your workspace.
Conversations persist in SQLite and long histories are compressed
automatically to stay inside the model's context window.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			// Bare "loom" drops into interactive chat.
			chatCmd().Run(cmd, args)
		},
	}

	root.AddCommand(chatCmd())
	root.AddCommand(sessionsCmd())
	root.AddCommand(doctorCmd())
	return root
}
