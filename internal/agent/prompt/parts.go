package prompt

import (
	"encoding/json"
	"fmt"
)

// PartType tags one element of an assistant entry's persisted parts array
type PartType string

const (
	PartText      PartType = "text"
	PartReasoning PartType = "reasoning"
	PartToolCall  PartType = "tool-call"
)

// Part is one element of the ordered parts array persisted on assistant
// entries. A tool-call part with a nil Result denotes an interrupted call.
type Part struct {
	Type     PartType        `json:"type"`
	Text     string          `json:"text,omitempty"`
	ID       string          `json:"id,omitempty"`
	ToolName string          `json:"toolName,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// DecodeParts parses a persisted parts_json blob. It returns an error for
// anything other than a non-empty array of recognized parts; callers treat
// any error as "render the entry as plain text".
func DecodeParts(raw json.RawMessage) ([]Part, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty parts payload")
	}

	var parts []Part
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("failed to decode parts: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("parts array is empty")
	}

	for i, p := range parts {
		switch p.Type {
		case PartText, PartReasoning, PartToolCall:
		default:
			return nil, fmt.Errorf("part %d has unknown type %q", i, p.Type)
		}
	}
	return parts, nil
}

// RenderResultText converts a tool result payload to the text replayed to
// the model. String results pass through; anything else is pretty-printed
// JSON.
func RenderResultText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(pretty)
}
