package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loomapp/loom/internal/agent/ai"
	"github.com/loomapp/loom/internal/agent/compact"
	"github.com/loomapp/loom/internal/agent/prompt"
	"github.com/loomapp/loom/internal/agent/tools"
	"github.com/loomapp/loom/internal/config"
	"github.com/loomapp/loom/internal/db"
	"github.com/loomapp/loom/internal/logging"
)

// RateLimitExhaustedMessage replaces raw provider errors once every retry
// attempt has been spent on a rate limit.
const RateLimitExhaustedMessage = "The model provider is rate limiting requests right now. Please wait a moment and try again."

// RunOptions describes a single user turn.
type RunOptions struct {
	ConversationID string
	Prompt         string
	Model          string // "provider/model", empty for the first configured provider
	System         string
}

// Callbacks receive streaming output as the run progresses. Any field
// may be nil.
type Callbacks struct {
	OnText       func(text string)
	OnReasoning  func(text string)
	OnToolCall   func(call ai.ToolCall)
	OnToolResult func(call ai.ToolCall, content string, isError bool)
	OnRetry      func(attempt int, delay time.Duration, err error)
}

// RunResult is the terminal state of a run. Aborted is set when the
// context was cancelled; that is not an error.
type RunResult struct {
	Text    string
	Aborted bool
	Metrics Metrics
}

// Runner drives the agentic loop: stream the model, execute tool calls,
// persist entries, repeat until the model stops asking for tools.
type Runner struct {
	store     *db.Store
	providers []ai.Provider
	tools     *tools.Registry
	cfg       *config.Config
	backoff   BackoffConfig
}

func New(cfg *config.Config, store *db.Store, providers []ai.Provider, registry *tools.Registry) *Runner {
	bo := BackoffConfig{
		MaxAttempts: cfg.Agent.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Agent.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Agent.Retry.MaxDelayMS) * time.Millisecond,
	}
	if bo.MaxAttempts <= 0 {
		bo = DefaultBackoff()
	}
	return &Runner{
		store:     store,
		providers: providers,
		tools:     registry,
		cfg:       cfg,
		backoff:   bo,
	}
}

// stepOutput collects everything one provider stream produced.
type stepOutput struct {
	text      strings.Builder
	reasoning strings.Builder
	toolCalls []ai.ToolCall
	usage     *ai.Usage
}

// Run executes one user turn end to end. The returned RunResult is non-nil
// even when err is set, so the metrics collected before the failure survive.
func (r *Runner) Run(ctx context.Context, opts *RunOptions, cb *Callbacks) (*RunResult, error) {
	if cb == nil {
		cb = &Callbacks{}
	}
	result := &RunResult{Metrics: Metrics{StartedAt: time.Now()}}

	if len(r.providers) == 0 {
		return result, fmt.Errorf("no providers configured")
	}
	provider, model := ai.Resolve(r.providers, opts.Model)
	if provider == nil {
		return result, fmt.Errorf("no provider for model %q", opts.Model)
	}

	if opts.Prompt != "" {
		err := r.store.AppendEntry(ctx, &db.Entry{
			ConversationID: opts.ConversationID,
			Role:           db.RoleUser,
			Content:        opts.Prompt,
		})
		if err != nil {
			return result, fmt.Errorf("save user entry: %w", err)
		}
	}

	maxSteps := r.cfg.Agent.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 24
	}

	var finalText strings.Builder
	for step := 0; step < maxSteps; step++ {
		result.Metrics.Steps++

		r.maybeCompact(ctx, opts.ConversationID, provider)

		messages, err := r.loadMessages(ctx, opts.ConversationID)
		if err != nil {
			return result, err
		}

		req := &ai.ChatRequest{
			Messages:  messages,
			Tools:     r.tools.Definitions(),
			System:    opts.System,
			Model:     model,
			MaxTokens: r.cfg.Agent.MaxOutputTokens,
		}

		out, err := r.streamWithRetry(ctx, provider, req, cb, &result.Metrics)
		if err != nil {
			if ctx.Err() != nil {
				// Keep whatever the interrupted stream already produced:
				// the partial text joins the result and is persisted as an
				// assistant entry whose tool calls carry no results.
				if out != nil && (out.text.Len() > 0 || out.reasoning.Len() > 0 || len(out.toolCalls) > 0) {
					finalText.WriteString(out.text.String())
					parts, _ := r.executeTools(ctx, opts.ConversationID, out, cb, &result.Metrics)
					if err := r.saveAssistantEntry(ctx, opts.ConversationID, provider.ID()+"/"+model, out, parts); err != nil {
						logging.Errorf("save interrupted assistant entry: %v", err)
					}
				}
				result.Aborted = true
				result.Text = finalText.String()
				return result, nil
			}
			logging.Warnf("run failed (%s): %v", result.Metrics.Report(), err)
			return result, err
		}

		if out.usage != nil {
			result.Metrics.InputTokens += out.usage.InputTokens
			result.Metrics.OutputTokens += out.usage.OutputTokens
		}
		finalText.WriteString(out.text.String())

		parts, aborted := r.executeTools(ctx, opts.ConversationID, out, cb, &result.Metrics)

		if err := r.saveAssistantEntry(ctx, opts.ConversationID, provider.ID()+"/"+model, out, parts); err != nil {
			logging.Errorf("save assistant entry: %v", err)
		}

		if aborted {
			result.Aborted = true
			result.Text = finalText.String()
			return result, nil
		}
		if len(out.toolCalls) == 0 {
			result.Text = finalText.String()
			return result, nil
		}
	}

	return result, fmt.Errorf("reached maximum steps (%d)", maxSteps)
}

// streamWithRetry runs one provider stream, retrying rate-limited failures
// up to the configured attempt budget. Partial output from a failed attempt
// is returned alongside the error so cancellation can keep it; retried
// attempts start fresh.
func (r *Runner) streamWithRetry(ctx context.Context, provider ai.Provider, req *ai.ChatRequest, cb *Callbacks, m *Metrics) (*stepOutput, error) {
	var lastErr error
	for attempt := 1; attempt <= r.backoff.MaxAttempts; attempt++ {
		out, err := r.streamOnce(ctx, provider, req, cb, m)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if !IsRateLimitError(err) {
			return out, err
		}
		lastErr = err
		if attempt == r.backoff.MaxAttempts {
			break
		}
		delay := r.backoff.Delay(attempt, err)
		m.Retries++
		logging.Warnf("rate limited (attempt %d/%d), retrying in %s: %v", attempt, r.backoff.MaxAttempts, delay, err)
		if cb.OnRetry != nil {
			cb.OnRetry(attempt, delay, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, errors.New(RateLimitExhaustedMessage + " (" + lastErr.Error() + ")")
}

func (r *Runner) streamOnce(ctx context.Context, provider ai.Provider, req *ai.ChatRequest, cb *Callbacks, m *Metrics) (*stepOutput, error) {
	events, err := provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &stepOutput{}
	for ev := range events {
		switch ev.Type {
		case ai.EventTypeText:
			m.markFirstToken()
			out.text.WriteString(ev.Text)
			if cb.OnText != nil {
				cb.OnText(ev.Text)
			}
		case ai.EventTypeReasoning:
			m.markFirstToken()
			out.reasoning.WriteString(ev.Text)
			if cb.OnReasoning != nil {
				cb.OnReasoning(ev.Text)
			}
		case ai.EventTypeToolCall:
			if ev.ToolCall != nil {
				m.ToolCalls++
				out.toolCalls = append(out.toolCalls, *ev.ToolCall)
				if cb.OnToolCall != nil {
					cb.OnToolCall(*ev.ToolCall)
				}
			}
		case ai.EventTypeError:
			return out, ev.Error
		case ai.EventTypeDone:
			if ev.Usage != nil {
				out.usage = ev.Usage
			}
		}
	}
	return out, nil
}

// executeTools runs each requested tool and records its result in the
// matching part. A cancelled context stops execution mid-list; untouched
// parts keep a nil result so the transcript shows the interruption.
func (r *Runner) executeTools(ctx context.Context, conversationID string, out *stepOutput, cb *Callbacks, m *Metrics) ([]prompt.Part, bool) {
	var parts []prompt.Part
	if out.text.Len() > 0 {
		parts = append(parts, prompt.Part{Type: prompt.PartText, Text: out.text.String()})
	}
	if out.reasoning.Len() > 0 {
		parts = append(parts, prompt.Part{Type: prompt.PartReasoning, Text: out.reasoning.String()})
	}

	// Index of each tool-call part in the final slice. Taking pointers here
	// would alias a backing array that later appends may replace.
	callBase := len(parts)
	for _, tc := range out.toolCalls {
		parts = append(parts, prompt.Part{
			Type:     prompt.PartToolCall,
			ID:       tc.ID,
			ToolName: tc.Name,
			Args:     tc.Input,
		})
	}

	for i, tc := range out.toolCalls {
		if ctx.Err() != nil {
			return parts, true
		}
		res := r.tools.Execute(ctx, conversationID, &tc)
		m.ToolResults++
		if cb.OnToolResult != nil {
			cb.OnToolResult(tc, res.Content, res.IsError)
		}
		if raw, err := json.Marshal(res.Content); err == nil {
			parts[callBase+i].Result = raw
		}
	}
	return parts, false
}

func (r *Runner) saveAssistantEntry(ctx context.Context, conversationID, modelID string, out *stepOutput, parts []prompt.Part) error {
	// The entry must land even when the run was just cancelled; a ctrl-C
	// must not lose the partial step it interrupted.
	ctx = context.WithoutCancel(ctx)

	var partsJSON json.RawMessage
	if len(parts) > 0 {
		raw, err := json.Marshal(parts)
		if err != nil {
			return err
		}
		partsJSON = raw
	}
	entry := &db.Entry{
		ConversationID: conversationID,
		Role:           db.RoleAssistant,
		Content:        out.text.String(),
		ReasoningText:  out.reasoning.String(),
		PartsJSON:      partsJSON,
		ModelID:        modelID,
	}
	if out.usage != nil {
		entry.TokensInput = out.usage.InputTokens
		entry.TokensOutput = out.usage.OutputTokens
	}
	return r.store.AppendEntry(ctx, entry)
}

func (r *Runner) loadMessages(ctx context.Context, conversationID string) ([]prompt.Message, error) {
	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	entries, err := r.store.Entries(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	return prompt.Normalize(entries, &prompt.Options{SummaryUpTo: conv.CompressedUpTo}), nil
}

// maybeCompact checks the context budget and compresses older history when
// it is exceeded. All failures are logged and swallowed; a run never dies
// because compression did.
func (r *Runner) maybeCompact(ctx context.Context, conversationID string, provider ai.Provider) {
	window := r.cfg.Agent.ContextWindow
	entries, err := r.store.Entries(ctx, conversationID)
	if err != nil {
		logging.Warnf("compaction: load entries: %v", err)
		return
	}
	if !compact.ShouldCompress(entries, window, r.cfg.Agent.Compression.Threshold) {
		return
	}
	boundary := compact.SelectBoundary(entries, window, r.cfg.Agent.Compression.KeepRatio)
	if len(boundary.ToCompress) == 0 {
		return
	}

	var existing string
	if prev, err := r.store.SummaryEntry(ctx, conversationID); err == nil && prev != nil {
		existing = prev.Content
	}

	summary, err := compact.Summarize(ctx, provider, boundary.ToCompress, existing, r.cfg.Agent.Compression.SummaryMaxTokens)
	if err != nil {
		logging.Warnf("compaction: summarize: %v", err)
		return
	}
	if _, err := compact.Apply(ctx, r.store, conversationID, summary, boundary.ToKeep); err != nil {
		logging.Warnf("compaction: apply: %v", err)
		return
	}
	logging.Infof("compacted conversation %s up to %s", conversationID, summary.CompressedUpTo)
}
