package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomapp/loom/internal/agent/ai"
	"github.com/loomapp/loom/internal/db"
	"github.com/loomapp/loom/internal/db/migrations"
	"github.com/loomapp/loom/internal/logging"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration and environment",
		Run: func(_ *cobra.Command, _ []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	logging.Disable()
	migrations.QuietMode = true
	cfg := rootConfig
	failed := false

	check := func(name string, ok bool, detail string) {
		mark := "\033[32mok\033[0m"
		if !ok {
			mark = "\033[31mFAIL\033[0m"
			failed = true
		}
		fmt.Printf("  %-24s %s  %s\n", name, mark, detail)
	}

	fmt.Println("Loom doctor")

	providers := ai.FromConfig(cfg.Providers)
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.ID())
	}
	check("providers", len(providers) > 0, fmt.Sprintf("%v", names))

	store, err := db.NewSQLite(cfg.Database.SQLitePath)
	if err != nil {
		check("database", false, err.Error())
	} else {
		check("database", true, cfg.Database.SQLitePath)
		store.Close()
	}

	info, err := os.Stat(cfg.Workspace.Root)
	check("workspace", err == nil && info.IsDir(), cfg.Workspace.Root)

	check("context window", cfg.Agent.ContextWindow > 0, fmt.Sprintf("%d tokens", cfg.Agent.ContextWindow))

	if failed {
		os.Exit(1)
	}
}
