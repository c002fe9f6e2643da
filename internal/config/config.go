// Package config loads the Loom configuration from YAML.
// Defaults ship embedded in the binary (etc/loom.yaml); a user file at
// <data_dir>/loom.yaml overrides them section by section.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration
type Config struct {
	// Database settings
	Database DatabaseConfig `yaml:"database"`

	// Provider credentials and model defaults
	Providers []ProviderConfig `yaml:"providers"`

	// Agent runtime settings (context budget, compression, retry)
	Agent AgentConfig `yaml:"agent"`

	// Workspace settings (tool confinement + context listing)
	Workspace WorkspaceConfig `yaml:"workspace"`
}

// DatabaseConfig holds persistence settings
type DatabaseConfig struct {
	SQLitePath string `yaml:"sqlite_path"` // Path to the conversations database
}

// ProviderConfig describes one model backend
type ProviderConfig struct {
	ID      string `yaml:"id"`       // "anthropic", "openai", "ollama"
	APIKey  string `yaml:"api_key"`  // Expanded from environment (${ANTHROPIC_API_KEY})
	Model   string `yaml:"model"`    // Default model identifier
	BaseURL string `yaml:"base_url"` // Only used by ollama
}

// AgentConfig holds the runtime knobs for one agent turn
type AgentConfig struct {
	// ContextWindow is the token budget assumed for the active model (default: 200000)
	ContextWindow int `yaml:"context_window"`

	// MaxOutputTokens caps a single model response (default: 8192)
	MaxOutputTokens int `yaml:"max_output_tokens"`

	// MaxSteps limits tool-use rounds within one turn (default: 24)
	MaxSteps int `yaml:"max_steps"`

	Compression CompressionConfig `yaml:"compression"`
	Retry       RetryConfig       `yaml:"retry"`
}

// CompressionConfig holds the history-compression parameters.
// Compression is best-effort: any failure falls back to uncompressed history.
type CompressionConfig struct {
	// Threshold is the fraction of the context window that triggers
	// summarization of older history (default: 0.75)
	Threshold float64 `yaml:"threshold"`

	// KeepRatio is the fraction of the window kept verbatim after a
	// compression pass (default: 0.4)
	KeepRatio float64 `yaml:"keep_ratio"`

	// SummaryMaxTokens caps the summarization call's output (default: 1024)
	SummaryMaxTokens int `yaml:"summary_max_tokens"`
}

// RetryConfig holds the rate-limit retry parameters
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"` // Attempt cap per run (default: 3)
	BaseDelayMS int `yaml:"base_delay_ms"` // Exponential backoff base (default: 1000)
	MaxDelayMS  int `yaml:"max_delay_ms"`  // Backoff ceiling (default: 30000)
}

// WorkspaceConfig holds workspace settings
type WorkspaceConfig struct {
	Root     string `yaml:"root"`      // Directory tools are confined to (default: cwd)
	MaxFiles int    `yaml:"max_files"` // Cap on files listed in the context string (default: 200)
}

// LoadFromBytes parses YAML config with environment variable expansion
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))
	c := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	c.applyDefaults()
	return c, nil
}

// Load reads the embedded defaults, then merges the user file if present.
func Load(embedded []byte, userPath string) (*Config, error) {
	c, err := LoadFromBytes(embedded)
	if err != nil {
		return nil, err
	}

	if userPath != "" {
		if data, readErr := os.ReadFile(userPath); readErr == nil {
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", userPath, err)
			}
			c.applyDefaults()
		}
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = filepath.Join("data", "loom.db")
	}
	if c.Agent.ContextWindow <= 0 {
		c.Agent.ContextWindow = 200000
	}
	if c.Agent.MaxOutputTokens <= 0 {
		c.Agent.MaxOutputTokens = 8192
	}
	if c.Agent.MaxSteps <= 0 {
		c.Agent.MaxSteps = 24
	}
	if c.Agent.Compression.Threshold <= 0 {
		c.Agent.Compression.Threshold = 0.75
	}
	if c.Agent.Compression.KeepRatio <= 0 {
		c.Agent.Compression.KeepRatio = 0.4
	}
	if c.Agent.Compression.SummaryMaxTokens <= 0 {
		c.Agent.Compression.SummaryMaxTokens = 1024
	}
	if c.Agent.Retry.MaxAttempts <= 0 {
		c.Agent.Retry.MaxAttempts = 3
	}
	if c.Agent.Retry.BaseDelayMS <= 0 {
		c.Agent.Retry.BaseDelayMS = 1000
	}
	if c.Agent.Retry.MaxDelayMS <= 0 {
		c.Agent.Retry.MaxDelayMS = 30000
	}
	if c.Workspace.Root == "" {
		if wd, err := os.Getwd(); err == nil {
			c.Workspace.Root = wd
		} else {
			c.Workspace.Root = "."
		}
	}
	if c.Workspace.MaxFiles <= 0 {
		c.Workspace.MaxFiles = 200
	}
}
