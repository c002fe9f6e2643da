// Package prompt converts persisted conversation entries into the ordered
// message list a model backend consumes.
package prompt

import (
	"encoding/json"

	"github.com/loomapp/loom/internal/db"
)

// InterruptedResultText replaces the result of a tool call that never
// finished. Backends reject a tool call with no paired result, so an
// interrupted call must still render one.
const InterruptedResultText = "[Tool execution was interrupted]"

// SegmentKind tags one segment of a user or assistant message
type SegmentKind string

const (
	SegmentText      SegmentKind = "text"
	SegmentReasoning SegmentKind = "reasoning"
	SegmentToolCall  SegmentKind = "tool_call"
)

// Segment is one typed piece of a user or assistant message
type Segment struct {
	Kind       SegmentKind     `json:"kind"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
}

// Message is one model-ready prompt message. User and assistant messages
// carry Segments; system messages and tool results carry plain Content.
type Message struct {
	Role       string    `json:"role"` // user, assistant, system, tool
	Content    string    `json:"content,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"` // tool role: the call this result answers
	ToolName   string    `json:"tool_name,omitempty"`
	Segments   []Segment `json:"segments,omitempty"`
}

// Options adjusts normalization
type Options struct {
	// SummaryUpTo enables summary-first reordering: the conversation's
	// summary entry is emitted first as a system message, and every other
	// entry created at or before this timestamp is skipped as covered.
	SummaryUpTo string
}

// Normalize converts persisted entries into prompt messages in original
// chronological order. It is a pure function of its inputs.
func Normalize(entries []db.Entry, opts *Options) []Message {
	var messages []Message

	summaryCutoff := ""
	if opts != nil {
		summaryCutoff = opts.SummaryUpTo
	}

	// With a cutoff, the summary jumps the queue: emit it first, then skip
	// everything it already covers.
	if summaryCutoff != "" {
		for i := range entries {
			if entries[i].IsSummary() {
				messages = append(messages, Message{
					Role:    db.RoleSystem,
					Content: entries[i].Content,
				})
				break
			}
		}
	}

	for i := range entries {
		entry := &entries[i]

		if summaryCutoff != "" {
			if entry.IsSummary() {
				continue // already emitted up front
			}
			if entry.CreatedAt <= summaryCutoff {
				continue // covered by the summary
			}
		}

		switch entry.Role {
		case db.RoleUser:
			messages = append(messages, Message{
				Role:     db.RoleUser,
				Segments: []Segment{{Kind: SegmentText, Text: entry.Content}},
			})

		case db.RoleSystem:
			messages = append(messages, Message{
				Role:    db.RoleSystem,
				Content: entry.Content,
			})

		case db.RoleAssistant:
			messages = append(messages, normalizeAssistant(entry)...)

		default:
			// Unrecognized role - drop silently
		}
	}

	return messages
}

// normalizeAssistant renders one assistant entry, expanding its parts into
// segments plus the companion tool-result messages. Falls back to a single
// text segment whenever the parts payload is unusable.
func normalizeAssistant(entry *db.Entry) []Message {
	parts, err := DecodeParts(entry.PartsJSON)
	if err != nil {
		return []Message{assistantText(entry.Content)}
	}

	var segments []Segment
	var toolMessages []Message
	hasToolCalls := false

	for _, part := range parts {
		switch part.Type {
		case PartText:
			segments = append(segments, Segment{Kind: SegmentText, Text: part.Text})

		case PartReasoning:
			// Reasoning is carried in storage but never replayed verbatim.

		case PartToolCall:
			hasToolCalls = true
			segments = append(segments, Segment{
				Kind:       SegmentToolCall,
				ToolCallID: part.ID,
				ToolName:   part.ToolName,
				Args:       part.Args,
			})

			resultText := InterruptedResultText
			if part.Result != nil {
				resultText = RenderResultText(part.Result)
			}
			toolMessages = append(toolMessages, Message{
				Role:       "tool",
				Content:    resultText,
				ToolCallID: part.ID,
				ToolName:   part.ToolName,
			})
		}
	}

	if len(segments) == 0 {
		return []Message{assistantText(entry.Content)}
	}

	// Some backends reject an assistant turn that carries tool calls but no
	// reasoning segment, so synthesize one from the stored reasoning text.
	if hasToolCalls {
		segments = append([]Segment{{Kind: SegmentReasoning, Text: entry.ReasoningText}}, segments...)
	}

	result := []Message{{Role: db.RoleAssistant, Segments: segments}}
	return append(result, toolMessages...)
}

func assistantText(content string) Message {
	return Message{
		Role:     db.RoleAssistant,
		Segments: []Segment{{Kind: SegmentText, Text: content}},
	}
}
