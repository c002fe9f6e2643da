// Package compact decides when conversation history must be summarized to
// fit the model's context window, selects a safe split point, and produces
// the summary. Every stage is best-effort: callers recover from any failure
// by running the turn on uncompressed history.
package compact

import (
	"context"
	"fmt"
	"strings"

	"github.com/loomapp/loom/internal/agent/ai"
	"github.com/loomapp/loom/internal/agent/prompt"
	"github.com/loomapp/loom/internal/db"
)

const (
	// DefaultThreshold triggers compression at this fraction of the window
	DefaultThreshold = 0.75
	// DefaultKeepRatio is the fraction of the window kept verbatim
	DefaultKeepRatio = 0.4
	// MinEntries is the floor below which compression never triggers
	// (two full turns minimum)
	MinEntries = 4
	// CharsPerToken is the rough character-to-token ratio used when no
	// precise counts are available
	CharsPerToken = 4
	// ToolPreviewChars caps tool result previews in the transcript
	ToolPreviewChars = 200
	// MinKeepEntries is the minimum number of entries kept verbatim
	MinKeepEntries = 2
)

// Boundary is the split between entries to summarize away and entries kept
// verbatim. An empty ToCompress means there is nothing worth compressing.
type Boundary struct {
	ToCompress []db.Entry
	ToKeep     []db.Entry
}

// Summary is the result of one summarization call
type Summary struct {
	Text           string
	CompressedUpTo string // CreatedAt of the last summarized entry
}

// ShouldCompress reports whether the next turn is likely to blow the context
// window. Precise token counts from the latest assistant entry are preferred;
// once a summary exists those counts describe replaced messages, so the
// character approximation takes over.
func ShouldCompress(entries []db.Entry, windowSize int, threshold float64) bool {
	if len(entries) < MinEntries {
		return false
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	hasSummary := false
	for i := range entries {
		if entries[i].IsSummary() {
			hasSummary = true
			break
		}
	}

	estimate := 0
	if !hasSummary {
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].Role == db.RoleAssistant {
				if entries[i].TokensInput > 0 {
					estimate = entries[i].TokensInput + entries[i].TokensOutput
				}
				break
			}
		}
	}
	if estimate == 0 {
		totalChars := 0
		for i := range entries {
			totalChars += len(entries[i].Content)
		}
		estimate = totalChars / CharsPerToken
	}

	return float64(estimate) >= float64(windowSize)*threshold
}

// SelectBoundary walks entries from the most recent backward until the keep
// budget is spent, then adjusts the split so it never lands inside a
// tool-call group.
func SelectBoundary(entries []db.Entry, windowSize int, keepRatio float64) Boundary {
	if keepRatio <= 0 {
		keepRatio = DefaultKeepRatio
	}
	keepBudget := float64(windowSize) * keepRatio

	split := len(entries)
	accumulated := 0
	for i := len(entries) - 1; i >= 0; i-- {
		cost := (len(entries[i].Content) + len(entries[i].PartsJSON)) / CharsPerToken
		if float64(accumulated+cost) > keepBudget {
			break
		}
		accumulated += cost
		split = i
	}

	// Keep at least two entries even when they alone exceed the budget
	if split > len(entries)-MinKeepEntries {
		split = len(entries) - MinKeepEntries
	}

	// A tool result must never open the kept zone while its originating
	// assistant entry is compressed away: back over contiguous tool entries,
	// then pull in the assistant that issued the calls.
	for split > 0 && split < len(entries) && entries[split].Role == db.RoleTool {
		split--
	}
	if split > 0 && hasToolCalls(&entries[split-1]) {
		split--
	}

	if split <= 0 {
		return Boundary{ToKeep: entries}
	}
	return Boundary{ToCompress: entries[:split], ToKeep: entries[split:]}
}

// hasToolCalls reports whether an assistant entry carries tool-call parts
func hasToolCalls(entry *db.Entry) bool {
	if entry.Role != db.RoleAssistant {
		return false
	}
	parts, err := prompt.DecodeParts(entry.PartsJSON)
	if err != nil {
		return false
	}
	for _, p := range parts {
		if p.Type == prompt.PartToolCall {
			return true
		}
	}
	return false
}

const summaryInstruction = "Summarize the conversation transcript above."

const summaryTemplate = `You maintain the long-term memory of an ongoing conversation between a user and an assistant. Produce a concise summary of the transcript below that preserves: the user's goals and constraints, decisions made, important facts and file paths, tool actions and their outcomes (including failures), and any unfinished work. Write plain prose, no preamble.

<transcript>
%s
</transcript>`

const chainedTemplate = `You maintain the long-term memory of an ongoing conversation between a user and an assistant. An earlier portion of this conversation was already summarized:

<previous-summary>
%s
</previous-summary>

Incorporate that summary and update it with the new transcript below. Preserve: the user's goals and constraints, decisions made, important facts and file paths, tool actions and their outcomes (including failures), and any unfinished work. Write plain prose, no preamble.

<transcript>
%s
</transcript>`

// Summarize renders the entries into a transcript and asks the backend for a
// summary, chaining with an existing summary when one is supplied.
func Summarize(ctx context.Context, provider ai.Provider, toCompress []db.Entry, existingSummary string, maxTokens int) (*Summary, error) {
	if len(toCompress) == 0 {
		return nil, fmt.Errorf("nothing to summarize")
	}
	if provider == nil {
		return nil, fmt.Errorf("no provider available for summarization")
	}

	transcript := Transcript(toCompress)

	var system string
	if existingSummary != "" {
		system = fmt.Sprintf(chainedTemplate, existingSummary, transcript)
	} else {
		system = fmt.Sprintf(summaryTemplate, transcript)
	}

	events, err := provider.Stream(ctx, &ai.ChatRequest{
		System: system,
		Messages: []prompt.Message{{
			Role:     db.RoleUser,
			Segments: []prompt.Segment{{Kind: prompt.SegmentText, Text: summaryInstruction}},
		}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("summarization call failed: %w", err)
	}

	var sb strings.Builder
	for event := range events {
		switch event.Type {
		case ai.EventTypeText:
			sb.WriteString(event.Text)
		case ai.EventTypeError:
			return nil, fmt.Errorf("summarization stream failed: %w", event.Error)
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, fmt.Errorf("summarization produced no text")
	}

	return &Summary{
		Text:           text,
		CompressedUpTo: toCompress[len(toCompress)-1].CreatedAt,
	}, nil
}

// Transcript renders entries as a compact human-readable log for the
// summarization prompt. Assistant entries with parts interleave their text
// and tool activity; everything else renders as "Role: content".
func Transcript(entries []db.Entry) string {
	var sb strings.Builder

	for i := range entries {
		entry := &entries[i]

		if entry.Role == db.RoleAssistant && len(entry.PartsJSON) > 0 {
			if parts, err := prompt.DecodeParts(entry.PartsJSON); err == nil {
				for _, p := range parts {
					switch p.Type {
					case prompt.PartText:
						fmt.Fprintf(&sb, "Assistant: %s\n", p.Text)
					case prompt.PartToolCall:
						preview := "(interrupted)"
						if p.Result != nil {
							preview = truncate(strings.ReplaceAll(prompt.RenderResultText(p.Result), "\n", " "), ToolPreviewChars)
						}
						fmt.Fprintf(&sb, "[Tool: %s(%s) → %s]\n", p.ToolName, string(p.Args), preview)
					}
				}
				continue
			}
		}

		fmt.Fprintf(&sb, "%s: %s\n", titleRole(entry.Role), entry.Content)
	}

	return sb.String()
}

// Apply replaces the conversation's standing summary and returns the new
// working set: the fresh summary entry followed by the kept entries.
func Apply(ctx context.Context, store *db.Store, conversationID string, summary *Summary, toKeep []db.Entry) ([]db.Entry, error) {
	entry, err := store.ReplaceSummary(ctx, conversationID, summary.Text, summary.CompressedUpTo)
	if err != nil {
		return nil, fmt.Errorf("failed to persist summary: %w", err)
	}
	working := make([]db.Entry, 0, len(toKeep)+1)
	working = append(working, *entry)
	working = append(working, toKeep...)
	return working, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func titleRole(role string) string {
	if role == "" {
		return "Unknown"
	}
	return strings.ToUpper(role[:1]) + role[1:]
}
