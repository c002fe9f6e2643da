package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomapp/loom/internal/agent/ai"
	"github.com/loomapp/loom/internal/agent/permission"
)

type stubTool struct {
	name     string
	gated    bool
	executed bool
}

func (s *stubTool) Name() string             { return s.name }
func (s *stubTool) Description() string      { return "stub" }
func (s *stubTool) Schema() json.RawMessage  { return json.RawMessage(`{"type":"object"}`) }
func (s *stubTool) RequiresApproval() bool   { return s.gated }
func (s *stubTool) Execute(_ context.Context, _ json.RawMessage) (*Result, error) {
	s.executed = true
	return &Result{Content: "ok"}, nil
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry(permission.NewArbiter())
	r.Register(&stubTool{name: "file"})

	res := r.Execute(context.Background(), "conv", &ai.ToolCall{Name: "bash"})
	require.True(t, res.IsError)
	assert.Contains(t, res.Content, "file")
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	r := NewRegistry(permission.NewArbiter())
	r.Register(&stubTool{name: "shell"})
	r.Register(&stubTool{name: "fetch"})
	r.Register(&stubTool{name: "file"})

	defs := r.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "fetch", defs[0].Name)
	assert.Equal(t, "file", defs[1].Name)
	assert.Equal(t, "shell", defs[2].Name)
}

func TestRegistryGatedToolWaitsForApproval(t *testing.T) {
	arb := permission.NewArbiter()
	r := NewRegistry(arb)
	tool := &stubTool{name: "shell", gated: true}
	r.Register(tool)

	done := make(chan *Result, 1)
	go func() {
		done <- r.Execute(context.Background(), "conv", &ai.ToolCall{Name: "shell"})
	}()

	// Wait for the request to land in the queue, then approve it.
	deadline := time.After(2 * time.Second)
	for arb.Pending() == 0 {
		select {
		case <-deadline:
			t.Fatal("permission request never arrived")
		case <-time.After(5 * time.Millisecond):
		}
	}
	arb.Resolve(permission.ChoiceAllow)

	res := <-done
	assert.False(t, res.IsError)
	assert.True(t, tool.executed)
}

func TestRegistryGatedToolDenied(t *testing.T) {
	arb := permission.NewArbiter()
	r := NewRegistry(arb)
	tool := &stubTool{name: "shell", gated: true}
	r.Register(tool)

	done := make(chan *Result, 1)
	go func() {
		done <- r.Execute(context.Background(), "conv", &ai.ToolCall{Name: "shell"})
	}()

	deadline := time.After(2 * time.Second)
	for arb.Pending() == 0 {
		select {
		case <-deadline:
			t.Fatal("permission request never arrived")
		case <-time.After(5 * time.Millisecond):
		}
	}
	arb.Resolve(permission.ChoiceDeny)

	res := <-done
	assert.True(t, res.IsError)
	assert.False(t, tool.executed)
}

func TestRegistryGatedToolCancelled(t *testing.T) {
	arb := permission.NewArbiter()
	r := NewRegistry(arb)
	tool := &stubTool{name: "shell", gated: true}
	r.Register(tool)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Execute(ctx, "conv", &ai.ToolCall{Name: "shell"})
	assert.True(t, res.IsError)
	assert.False(t, tool.executed)

	// The abandoned request must not linger and re-prompt on the next turn.
	assert.Equal(t, 0, arb.Pending())
	assert.Nil(t, arb.Current())
}
