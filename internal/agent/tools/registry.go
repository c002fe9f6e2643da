package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/loomapp/loom/internal/agent/ai"
	"github.com/loomapp/loom/internal/agent/permission"
	"github.com/loomapp/loom/internal/logging"
)

// Result is what a tool execution produced.
type Result struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Tool is implemented by every registered tool.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
	RequiresApproval() bool
}

// Gated is implemented by tools whose approval prompt should show a
// specific subject (the shell command, the URL) rather than the tool name.
type Gated interface {
	ApprovalRequest(input json.RawMessage) (subject, patternKey string)
}

// Registry manages available tools and gates the dangerous ones through
// the permission arbiter.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	arbiter *permission.Arbiter
}

func NewRegistry(arbiter *permission.Arbiter) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		arbiter: arbiter,
	}
}

// Register adds a tool, replacing any previous one with the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[tool.Name()]; ok {
		logging.Warnf("tool %q already registered, overwriting", tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// Arbiter returns the permission arbiter so a frontend can answer prompts.
func (r *Registry) Arbiter() *permission.Arbiter {
	return r.arbiter
}

// Definitions returns all tools as provider tool definitions, sorted by
// name so the prompt is stable across runs.
func (r *Registry) Definitions() []ai.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ai.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, ai.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs a tool call, asking the arbiter first when the tool
// requires approval. Errors come back as error results so the model can
// read them and self-correct.
func (r *Registry) Execute(ctx context.Context, conversationID string, call *ai.ToolCall) *Result {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()

	if !ok {
		r.mu.RLock()
		available := make([]string, 0, len(r.tools))
		for name := range r.tools {
			available = append(available, name)
		}
		r.mu.RUnlock()
		sort.Strings(available)
		return &Result{
			Content: fmt.Sprintf("unknown tool %q; available tools: %s", call.Name, strings.Join(available, ", ")),
			IsError: true,
		}
	}

	if tool.RequiresApproval() && r.arbiter != nil {
		subject, pattern := call.Name, ""
		if g, ok := tool.(Gated); ok {
			subject, pattern = g.ApprovalRequest(call.Input)
		}
		req, decision := r.arbiter.Ask(conversationID, call.Name, subject, pattern)
		select {
		case <-ctx.Done():
			// Otherwise the abandoned request stays queued and the next
			// turn's prompt loop would re-ask the user.
			r.arbiter.Withdraw(req)
			return &Result{Content: "tool execution cancelled", IsError: true}
		case granted := <-decision:
			if !granted {
				return &Result{Content: fmt.Sprintf("permission denied for %s: %s", call.Name, subject), IsError: true}
			}
		}
	}

	logging.Infof("executing tool %s", call.Name)
	res, err := tool.Execute(ctx, call.Input)
	if err != nil {
		return &Result{Content: err.Error(), IsError: true}
	}
	return res
}
