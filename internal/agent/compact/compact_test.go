package compact

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomapp/loom/internal/agent/ai"
	"github.com/loomapp/loom/internal/db"
)

type mockProvider struct {
	events []ai.StreamEvent
	err    error
}

func (m *mockProvider) ID() string { return "mock" }

func (m *mockProvider) Stream(_ context.Context, _ *ai.ChatRequest) (<-chan ai.StreamEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan ai.StreamEvent, len(m.events)+1)
	for _, ev := range m.events {
		ch <- ev
	}
	ch <- ai.StreamEvent{Type: ai.EventTypeDone}
	close(ch)
	return ch, nil
}

func entryAt(i int, role, content string) db.Entry {
	return db.Entry{
		ID:        fmt.Sprintf("e%d", i),
		Role:      role,
		Content:   content,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC).Format(time.RFC3339Nano),
	}
}

func toolCallEntry(i int, result string) db.Entry {
	e := entryAt(i, db.RoleAssistant, "")
	parts := fmt.Sprintf(`[{"type":"tool-call","id":"call-%d","toolName":"shell","args":{"command":"ls"}`, i)
	if result != "" {
		parts += fmt.Sprintf(`,"result":%q`, result)
	}
	parts += "}]"
	e.PartsJSON = json.RawMessage(parts)
	return e
}

func TestShouldCompressMinEntries(t *testing.T) {
	entries := []db.Entry{
		entryAt(0, db.RoleUser, strings.Repeat("x", 100000)),
		entryAt(1, db.RoleAssistant, strings.Repeat("y", 100000)),
		entryAt(2, db.RoleUser, strings.Repeat("z", 100000)),
	}
	assert.False(t, ShouldCompress(entries, 1000, 0.75))
}

func TestShouldCompressUsesAssistantTokenCounts(t *testing.T) {
	entries := []db.Entry{
		entryAt(0, db.RoleUser, "a"),
		entryAt(1, db.RoleAssistant, "b"),
		entryAt(2, db.RoleUser, "c"),
		entryAt(3, db.RoleAssistant, "d"),
	}
	entries[3].TokensInput = 700
	entries[3].TokensOutput = 100

	// 800 tokens against a 1000-token window crosses the 0.75 threshold
	// even though the content is tiny.
	assert.True(t, ShouldCompress(entries, 1000, 0.75))
	assert.False(t, ShouldCompress(entries, 2000, 0.75))
}

func TestShouldCompressFallsBackToCharHeuristic(t *testing.T) {
	entries := []db.Entry{
		entryAt(0, db.RoleUser, strings.Repeat("x", 2000)),
		entryAt(1, db.RoleAssistant, strings.Repeat("y", 2000)),
		entryAt(2, db.RoleUser, strings.Repeat("z", 2000)),
		entryAt(3, db.RoleAssistant, strings.Repeat("w", 2000)),
	}
	// No token counts anywhere: 8000 chars / 4 = 2000 estimated tokens.
	assert.True(t, ShouldCompress(entries, 2000, 0.75))
	assert.False(t, ShouldCompress(entries, 4000, 0.75))
}

func TestShouldCompressIgnoresStaleCountsWithSummary(t *testing.T) {
	summary := entryAt(0, db.RoleSystem, "earlier summary")
	summary.ParentID = db.SummaryParentID
	entries := []db.Entry{
		summary,
		entryAt(1, db.RoleUser, "a"),
		entryAt(2, db.RoleAssistant, "b"),
		entryAt(3, db.RoleUser, "c"),
	}
	// The assistant counts would have triggered, but a summary is present
	// so the character heuristic runs instead.
	entries[2].TokensInput = 10000
	assert.False(t, ShouldCompress(entries, 1000, 0.75))
}

func TestSelectBoundaryKeepsRecentEntries(t *testing.T) {
	entries := []db.Entry{
		entryAt(0, db.RoleUser, strings.Repeat("a", 4000)),
		entryAt(1, db.RoleAssistant, strings.Repeat("b", 4000)),
		entryAt(2, db.RoleUser, strings.Repeat("c", 4000)),
		entryAt(3, db.RoleAssistant, strings.Repeat("d", 4000)),
	}
	// Keep budget is 2000*0.4 = 800 tokens; each entry costs ~1000, so only
	// the minimum of two entries survives.
	b := SelectBoundary(entries, 2000, 0.4)
	require.Len(t, b.ToCompress, 2)
	require.Len(t, b.ToKeep, 2)
	assert.Equal(t, "e2", b.ToKeep[0].ID)
}

func TestSelectBoundaryNeverSplitsToolGroup(t *testing.T) {
	tool := entryAt(2, db.RoleTool, strings.Repeat("t", 100))
	entries := []db.Entry{
		entryAt(0, db.RoleUser, strings.Repeat("a", 8000)),
		toolCallEntry(1, "listing"),
		tool,
		entryAt(3, db.RoleAssistant, strings.Repeat("d", 100)),
	}
	b := SelectBoundary(entries, 2000, 0.4)

	// Wherever the budget landed, the kept zone must not open on a tool
	// result whose assistant was compressed away.
	if len(b.ToKeep) > 0 && b.ToKeep[0].Role == db.RoleTool {
		t.Fatalf("kept zone opens with orphaned tool entry %s", b.ToKeep[0].ID)
	}
	for _, kept := range b.ToKeep {
		if kept.ID == tool.ID {
			// Its assistant must be kept too.
			found := false
			for _, k := range b.ToKeep {
				if k.ID == "e1" {
					found = true
				}
			}
			assert.True(t, found, "tool entry kept without its assistant")
		}
	}
}

func TestSelectBoundaryNothingToCompress(t *testing.T) {
	entries := []db.Entry{
		entryAt(0, db.RoleUser, "short"),
		entryAt(1, db.RoleAssistant, "reply"),
	}
	b := SelectBoundary(entries, 200000, 0.4)
	assert.Empty(t, b.ToCompress)
	assert.Len(t, b.ToKeep, 2)
}

func TestTranscriptRendersToolActivity(t *testing.T) {
	entries := []db.Entry{
		entryAt(0, db.RoleUser, "list the files"),
		toolCallEntry(1, "main.go\nREADME.md"),
	}
	tr := Transcript(entries)
	assert.Contains(t, tr, "User: list the files")
	assert.Contains(t, tr, "[Tool: shell(")
	assert.Contains(t, tr, "main.go README.md")
}

func TestTranscriptTruncatesLongPreviews(t *testing.T) {
	entries := []db.Entry{toolCallEntry(0, strings.Repeat("x", 500))}
	tr := Transcript(entries)
	assert.Contains(t, tr, strings.Repeat("x", ToolPreviewChars)+"...")
	assert.NotContains(t, tr, strings.Repeat("x", ToolPreviewChars+1))
}

func TestTranscriptMarksInterruptedCalls(t *testing.T) {
	tr := Transcript([]db.Entry{toolCallEntry(0, "")})
	assert.Contains(t, tr, "(interrupted)")
}

func TestSummarize(t *testing.T) {
	entries := []db.Entry{
		entryAt(0, db.RoleUser, "hello"),
		entryAt(1, db.RoleAssistant, "hi"),
	}
	p := &mockProvider{events: []ai.StreamEvent{
		{Type: ai.EventTypeText, Text: "User greeted "},
		{Type: ai.EventTypeText, Text: "the assistant."},
	}}

	s, err := Summarize(context.Background(), p, entries, "", 1024)
	require.NoError(t, err)
	assert.Equal(t, "User greeted the assistant.", s.Text)
	assert.Equal(t, entries[1].CreatedAt, s.CompressedUpTo)
}

func TestSummarizeFailures(t *testing.T) {
	entries := []db.Entry{entryAt(0, db.RoleUser, "hello")}

	_, err := Summarize(context.Background(), &mockProvider{err: fmt.Errorf("boom")}, entries, "", 1024)
	assert.Error(t, err)

	_, err = Summarize(context.Background(), &mockProvider{events: []ai.StreamEvent{
		{Type: ai.EventTypeError, Error: fmt.Errorf("stream died")},
	}}, entries, "", 1024)
	assert.Error(t, err)

	_, err = Summarize(context.Background(), &mockProvider{}, entries, "", 1024)
	assert.Error(t, err, "empty output is an error")

	_, err = Summarize(context.Background(), &mockProvider{}, nil, "", 1024)
	assert.Error(t, err, "nothing to summarize")
}
