package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomapp/loom/internal/config"
)

func TestParseModelID(t *testing.T) {
	p, m := ParseModelID("anthropic/claude-sonnet-4-5")
	assert.Equal(t, "anthropic", p)
	assert.Equal(t, "claude-sonnet-4-5", m)

	p, m = ParseModelID("llama3.2")
	assert.Equal(t, "", p)
	assert.Equal(t, "llama3.2", m)

	p, m = ParseModelID("")
	assert.Equal(t, "", p)
	assert.Equal(t, "", m)
}

func TestFromConfigSkipsMissingCredentials(t *testing.T) {
	providers := FromConfig([]config.ProviderConfig{
		{ID: "anthropic", APIKey: ""},
		{ID: "openai", APIKey: "sk-test"},
		{ID: "ollama", BaseURL: "http://localhost:11434"},
		{ID: "unknown", APIKey: "x"},
	})
	require.Len(t, providers, 2)
	assert.Equal(t, "openai", providers[0].ID())
	assert.Equal(t, "ollama", providers[1].ID())
}

type idProvider string

func (p idProvider) ID() string { return string(p) }
func (p idProvider) Stream(context.Context, *ChatRequest) (<-chan StreamEvent, error) {
	return nil, nil
}

func TestResolve(t *testing.T) {
	providers := []Provider{idProvider("anthropic"), idProvider("openai")}

	p, m := Resolve(providers, "openai/gpt-4o")
	require.NotNil(t, p)
	assert.Equal(t, "openai", p.ID())
	assert.Equal(t, "gpt-4o", m)

	// Unknown provider falls back to priority order.
	p, m = Resolve(providers, "google/gemini")
	require.NotNil(t, p)
	assert.Equal(t, "anthropic", p.ID())
	assert.Equal(t, "gemini", m)

	// Bare model uses the first provider.
	p, m = Resolve(providers, "claude-sonnet-4-5")
	require.NotNil(t, p)
	assert.Equal(t, "anthropic", p.ID())
	assert.Equal(t, "claude-sonnet-4-5", m)

	p, _ = Resolve(nil, "anything")
	assert.Nil(t, p)
}
