package main

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	cli "github.com/loomapp/loom/cmd/loom"
	"github.com/loomapp/loom/internal/config"
)

//go:embed etc/loom.yaml
var embeddedConfig []byte

func main() {
	// Load .env if present; missing file is fine.
	_ = godotenv.Load()

	userConfig := os.Getenv("LOOM_CONFIG")
	if userConfig == "" {
		if home, err := os.UserHomeDir(); err == nil {
			userConfig = filepath.Join(home, ".loom", "loom.yaml")
		}
	}

	cfg, err := config.Load(embeddedConfig, userConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cli.SetupRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
