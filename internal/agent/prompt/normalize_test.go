package prompt

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/loomapp/loom/internal/db"
)

func TestNormalizePlainConversation(t *testing.T) {
	entries := []db.Entry{
		{Role: "user", Content: "Hi", CreatedAt: "T1"},
		{Role: "assistant", Content: "Hello", CreatedAt: "T2"},
	}

	messages := Normalize(entries, nil)

	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != "user" || messages[0].Segments[0].Text != "Hi" {
		t.Errorf("unexpected user message: %+v", messages[0])
	}
	if messages[1].Role != "assistant" || messages[1].Segments[0].Text != "Hello" {
		t.Errorf("unexpected assistant message: %+v", messages[1])
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	entries := []db.Entry{
		{Role: "user", Content: "question", CreatedAt: "T1"},
		{Role: "assistant", CreatedAt: "T2", ReasoningText: "thinking",
			PartsJSON: json.RawMessage(`[{"type":"text","text":"checking"},{"type":"tool-call","id":"c1","toolName":"file","args":{"path":"a.txt"},"result":"contents"}]`)},
	}

	first := Normalize(entries, nil)
	second := Normalize(entries, nil)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("normalize is not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestNormalizeToolCallPairing(t *testing.T) {
	parts := `[
		{"type":"tool-call","id":"call_1","toolName":"shell","args":{"command":"ls"},"result":"a.txt\nb.txt"},
		{"type":"tool-call","id":"call_2","toolName":"file","args":{"path":"a.txt"}}
	]`
	entries := []db.Entry{
		{Role: "assistant", PartsJSON: json.RawMessage(parts), CreatedAt: "T1"},
	}

	messages := Normalize(entries, nil)

	// One assistant message followed immediately by one tool message per call
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	if messages[0].Role != "assistant" {
		t.Fatalf("expected assistant first, got %s", messages[0].Role)
	}
	if messages[1].Role != "tool" || messages[1].ToolCallID != "call_1" {
		t.Errorf("expected tool result for call_1, got %+v", messages[1])
	}
	if messages[1].Content != "a.txt\nb.txt" {
		t.Errorf("string result should pass through, got %q", messages[1].Content)
	}
	if messages[2].Role != "tool" || messages[2].ToolCallID != "call_2" {
		t.Errorf("expected tool result for call_2, got %+v", messages[2])
	}
	if messages[2].Content != InterruptedResultText {
		t.Errorf("missing result should render the interruption placeholder, got %q", messages[2].Content)
	}
}

func TestNormalizeSyntheticReasoningSegment(t *testing.T) {
	parts := `[
		{"type":"reasoning","text":"stored reasoning part"},
		{"type":"tool-call","id":"c1","toolName":"shell","args":{},"result":"ok"}
	]`
	entries := []db.Entry{
		{Role: "assistant", ReasoningText: "why I am calling", PartsJSON: json.RawMessage(parts), CreatedAt: "T1"},
	}

	messages := Normalize(entries, nil)

	assistant := messages[0]
	if assistant.Segments[0].Kind != SegmentReasoning {
		t.Fatalf("expected leading reasoning segment, got %s", assistant.Segments[0].Kind)
	}
	if assistant.Segments[0].Text != "why I am calling" {
		t.Errorf("reasoning segment should use the entry's reasoning text, got %q", assistant.Segments[0].Text)
	}
	// The stored reasoning part itself must not be replayed
	for _, seg := range assistant.Segments[1:] {
		if seg.Kind == SegmentReasoning {
			t.Errorf("reasoning part leaked into replayed segments: %+v", seg)
		}
	}
}

func TestNormalizeNonStringResultPrettyPrinted(t *testing.T) {
	parts := `[{"type":"tool-call","id":"c1","toolName":"fetch","args":{},"result":{"status":200,"body":"ok"}}]`
	entries := []db.Entry{
		{Role: "assistant", PartsJSON: json.RawMessage(parts), CreatedAt: "T1"},
	}

	messages := Normalize(entries, nil)

	var decoded map[string]any
	if err := json.Unmarshal([]byte(messages[1].Content), &decoded); err != nil {
		t.Fatalf("pretty-printed result is not valid JSON: %v\ncontent: %s", err, messages[1].Content)
	}
	if decoded["status"] != float64(200) {
		t.Errorf("unexpected rendered result: %s", messages[1].Content)
	}
}

func TestNormalizeMalformedPartsFallsBack(t *testing.T) {
	cases := []struct {
		name  string
		parts string
	}{
		{"invalid json", `{not json`},
		{"non-array", `{"type":"text","text":"x"}`},
		{"empty array", `[]`},
		{"unknown part type", `[{"type":"image","text":"x"}]`},
		{"reasoning only", `[{"type":"reasoning","text":"hidden"}]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entries := []db.Entry{
				{Role: "assistant", Content: "fallback text", PartsJSON: json.RawMessage(tc.parts), CreatedAt: "T1"},
			}
			messages := Normalize(entries, nil)
			if len(messages) != 1 {
				t.Fatalf("expected 1 message, got %d", len(messages))
			}
			seg := messages[0].Segments
			if len(seg) != 1 || seg[0].Kind != SegmentText || seg[0].Text != "fallback text" {
				t.Errorf("expected plain-text fallback, got %+v", seg)
			}
		})
	}
}

func TestNormalizeSummaryReordering(t *testing.T) {
	entries := []db.Entry{
		{Role: "user", Content: "old question", CreatedAt: "T1"},
		{Role: "assistant", Content: "new answer", CreatedAt: "T2"},
		{Role: "system", Content: "summary of earlier turns", ParentID: db.SummaryParentID, CreatedAt: "T0"},
	}

	messages := Normalize(entries, &Options{SummaryUpTo: "T1"})

	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != "system" || messages[0].Content != "summary of earlier turns" {
		t.Errorf("summary should be emitted first, got %+v", messages[0])
	}
	if messages[1].Role != "assistant" {
		t.Errorf("entry at the cutoff should be skipped, kept %+v", messages[1])
	}
}

func TestNormalizeWithoutCutoffKeepsOrder(t *testing.T) {
	entries := []db.Entry{
		{Role: "user", Content: "q", CreatedAt: "T1"},
		{Role: "system", Content: "summary", ParentID: db.SummaryParentID, CreatedAt: "T0"},
	}

	messages := Normalize(entries, nil)

	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != "user" {
		t.Errorf("no cutoff means no reordering, got %s first", messages[0].Role)
	}
}

func TestNormalizeDropsUnknownRoles(t *testing.T) {
	entries := []db.Entry{
		{Role: "user", Content: "q", CreatedAt: "T1"},
		{Role: "critic", Content: "ignored", CreatedAt: "T2"},
	}

	messages := Normalize(entries, nil)
	if len(messages) != 1 {
		t.Errorf("unknown roles must be dropped, got %d messages", len(messages))
	}
}

func TestNormalizeEmptyUserContent(t *testing.T) {
	messages := Normalize([]db.Entry{{Role: "user", CreatedAt: "T1"}}, nil)
	if len(messages) != 1 || messages[0].Segments[0].Text != "" {
		t.Errorf("nil content should render as empty text segment, got %+v", messages)
	}
}
