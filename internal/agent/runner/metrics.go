package runner

import (
	"fmt"
	"time"
)

// Metrics accumulates counters over a single Run call.
type Metrics struct {
	StartedAt    time.Time
	FirstTokenAt time.Time
	Steps        int
	ToolCalls    int
	ToolResults  int
	Retries      int
	InputTokens  int
	OutputTokens int
}

// markFirstToken records the first streamed token timestamp. Later calls
// are no-ops so retries and multi-step runs keep the original value.
func (m *Metrics) markFirstToken() {
	if m.FirstTokenAt.IsZero() {
		m.FirstTokenAt = time.Now()
	}
}

// Report renders a one-line human-readable summary.
func (m *Metrics) Report() string {
	ttft := "n/a"
	if !m.FirstTokenAt.IsZero() {
		ttft = m.FirstTokenAt.Sub(m.StartedAt).Round(time.Millisecond).String()
	}
	return fmt.Sprintf("steps=%d toolCalls=%d toolResults=%d retries=%d tokens=%d/%d firstToken=%s elapsed=%s",
		m.Steps, m.ToolCalls, m.ToolResults, m.Retries,
		m.InputTokens, m.OutputTokens,
		ttft, time.Since(m.StartedAt).Round(time.Millisecond))
}
