package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromBytesDefaults(t *testing.T) {
	c, err := LoadFromBytes([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, 200000, c.Agent.ContextWindow)
	assert.Equal(t, 8192, c.Agent.MaxOutputTokens)
	assert.Equal(t, 24, c.Agent.MaxSteps)
	assert.Equal(t, 0.75, c.Agent.Compression.Threshold)
	assert.Equal(t, 0.4, c.Agent.Compression.KeepRatio)
	assert.Equal(t, 3, c.Agent.Retry.MaxAttempts)
	assert.Equal(t, 1000, c.Agent.Retry.BaseDelayMS)
	assert.NotEmpty(t, c.Workspace.Root)
	assert.Equal(t, 200, c.Workspace.MaxFiles)
}

func TestLoadFromBytesExpandsEnv(t *testing.T) {
	t.Setenv("LOOM_TEST_KEY", "sk-test-123")

	c, err := LoadFromBytes([]byte(`
providers:
  - id: anthropic
    api_key: ${LOOM_TEST_KEY}
    model: claude-sonnet-4-5
`))
	require.NoError(t, err)
	require.Len(t, c.Providers, 1)
	assert.Equal(t, "sk-test-123", c.Providers[0].APIKey)
}

func TestLoadUserOverrides(t *testing.T) {
	embedded := []byte(`
agent:
  context_window: 200000
  max_steps: 24
`)
	c, err := Load(embedded, "")
	require.NoError(t, err)
	assert.Equal(t, 200000, c.Agent.ContextWindow)

	// Missing user file falls back to embedded values.
	c, err = Load(embedded, "/nonexistent/loom.yaml")
	require.NoError(t, err)
	assert.Equal(t, 24, c.Agent.MaxSteps)
}
