package db

import "encoding/json"

// Role values stored on conversation entries
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// SummaryParentID is the reserved parent_id value that marks an entry as a
// conversation's standing history summary. At most one live summary entry
// exists per conversation.
const SummaryParentID = "__context_summary__"

// Conversation is one chat thread
type Conversation struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	CompressedUpTo string `json:"compressed_up_to,omitempty"` // Timestamp of the last summarized entry
	CreatedAt      string `json:"created_at"`
}

// Entry is one persisted conversation message. CreatedAt is an RFC3339Nano
// timestamp string, so lexicographic order is chronological order.
type Entry struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           string          `json:"role"`
	Content        string          `json:"content,omitempty"`
	ReasoningText  string          `json:"reasoning_text,omitempty"`
	PartsJSON      json.RawMessage `json:"parts_json,omitempty"`
	ModelID        string          `json:"model_id,omitempty"`
	TokensInput    int             `json:"tokens_input,omitempty"`
	TokensOutput   int             `json:"tokens_output,omitempty"`
	ParentID       string          `json:"parent_id,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

// IsSummary reports whether the entry is the conversation's standing summary.
func (e *Entry) IsSummary() bool {
	return e.ParentID == SummaryParentID
}
