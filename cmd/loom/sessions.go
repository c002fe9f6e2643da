package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomapp/loom/internal/db"
	"github.com/loomapp/loom/internal/db/migrations"
	"github.com/loomapp/loom/internal/logging"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored conversations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List conversations, newest first",
		Run: func(_ *cobra.Command, _ []string) {
			store := openStore()
			defer store.Close()
			printConversations(context.Background(), store, "")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation and its history",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			store := openStore()
			defer store.Close()
			if err := store.DeleteConversation(context.Background(), args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Deleted " + args[0])
		},
	})

	return cmd
}

func openStore() *db.Store {
	logging.Disable()
	migrations.QuietMode = true
	store, err := db.NewSQLite(rootConfig.Database.SQLitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	return store
}

func printConversations(ctx context.Context, store *db.Store, current string) {
	conversations, err := store.ListConversations(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	if len(conversations) == 0 {
		fmt.Println("No conversations yet.")
		return
	}
	for _, c := range conversations {
		marker := " "
		if c.ID == current {
			marker = "*"
		}
		compressed := ""
		if c.CompressedUpTo != "" {
			compressed = " (compressed)"
		}
		fmt.Printf("%s %s  %s%s\n", marker, c.ID, c.Title, compressed)
	}
}
