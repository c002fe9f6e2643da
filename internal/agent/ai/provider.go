// Package ai defines the model backend contract and the concrete provider
// adapters. A provider turns a normalized prompt into a stream of events.
package ai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/loomapp/loom/internal/agent/prompt"
	"github.com/loomapp/loom/internal/config"
)

// StreamEventType defines the type of streaming event
type StreamEventType string

const (
	EventTypeText       StreamEventType = "text"
	EventTypeReasoning  StreamEventType = "reasoning"
	EventTypeToolCall   StreamEventType = "tool_call"
	EventTypeToolResult StreamEventType = "tool_result"
	EventTypeError      StreamEventType = "error"
	EventTypeDone       StreamEventType = "done"
)

// StreamEvent represents a streaming response event
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ToolCall *ToolCall       `json:"tool_call,omitempty"`
	Usage    *Usage          `json:"usage,omitempty"` // Set on the final done event when known
	Error    error           `json:"-"`
}

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Usage carries final token counts for one model call
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolDefinition describes a tool available to the model
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ChatRequest represents one model invocation
type ChatRequest struct {
	Messages    []prompt.Message `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	System      string           `json:"system,omitempty"`
	Model       string           `json:"model,omitempty"` // Override of the provider default
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
}

// Provider is a callable chat model backend
type Provider interface {
	// ID returns the provider identifier (e.g. "anthropic", "openai")
	ID() string

	// Stream sends a request and returns a channel of streaming events.
	// The channel is closed when the call completes, fails, or the context
	// is cancelled.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)
}

// ParseModelID splits a "provider/model" identifier. A bare model name
// yields an empty provider.
func ParseModelID(modelID string) (providerID, model string) {
	if i := strings.Index(modelID, "/"); i >= 0 {
		return modelID[:i], modelID[i+1:]
	}
	return "", modelID
}

// FromConfig builds providers from configuration, skipping entries with
// missing credentials. Order is priority order.
func FromConfig(cfgs []config.ProviderConfig) []Provider {
	var providers []Provider
	for _, c := range cfgs {
		switch c.ID {
		case "anthropic":
			if c.APIKey != "" {
				providers = append(providers, NewAnthropicProvider(c.APIKey, c.Model))
			}
		case "openai":
			if c.APIKey != "" {
				providers = append(providers, NewOpenAIProvider(c.APIKey, c.Model))
			}
		case "ollama":
			providers = append(providers, NewOllamaProvider(c.BaseURL, c.Model))
		}
	}
	return providers
}

// Resolve picks the provider for a "provider/model" identifier, falling back
// to the first configured provider. Returns the bare model name to request.
func Resolve(providers []Provider, modelID string) (Provider, string) {
	providerID, model := ParseModelID(modelID)
	if providerID != "" {
		for _, p := range providers {
			if p.ID() == providerID {
				return p, model
			}
		}
	}
	if len(providers) > 0 {
		return providers[0], model
	}
	return nil, model
}
