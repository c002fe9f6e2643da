package permission

import (
	"strings"
	"sync"
)

// Choice is the user's answer to a permission prompt.
type Choice string

const (
	ChoiceAllow       Choice = "allow"
	ChoiceDeny        Choice = "deny"
	ChoiceAlwaysAllow Choice = "alwaysAllow"
)

// Request is a pending permission prompt. Decision receives exactly one
// value when the request is resolved.
type Request struct {
	ConversationID string
	Operation      string
	Subject        string
	PatternKey     string

	decision chan bool
}

// Decision returns the channel the eventual answer is delivered on.
func (r *Request) Decision() <-chan bool {
	return r.decision
}

// Arbiter serializes permission prompts. At most one request is current;
// the rest wait in FIFO order. "Always allow" answers are remembered per
// conversation keyed by the request's pattern key.
type Arbiter struct {
	mu      sync.Mutex
	queue   []*Request
	allowed map[string]map[string]bool // conversationID -> patternKey -> true
}

func NewArbiter() *Arbiter {
	return &Arbiter{allowed: make(map[string]map[string]bool)}
}

// PatternKeyFor derives the cache key for a subject: its first
// whitespace-separated token, lowercased. For shell commands that is the
// program name.
func PatternKeyFor(subject string) string {
	fields := strings.Fields(subject)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// Ask submits a permission request and returns a channel that yields the
// decision. A previously cached "always allow" pattern for the same
// conversation resolves immediately without prompting.
func (a *Arbiter) Ask(conversationID, operation, subject, patternKey string) (*Request, <-chan bool) {
	if patternKey == "" {
		patternKey = PatternKeyFor(subject)
	}

	req := &Request{
		ConversationID: conversationID,
		Operation:      operation,
		Subject:        subject,
		PatternKey:     patternKey,
		decision:       make(chan bool, 1),
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if patternKey != "" && a.allowed[conversationID][patternKey] {
		req.decision <- true
		return req, req.decision
	}

	a.queue = append(a.queue, req)
	return req, req.decision
}

// Current returns the request at the head of the queue, or nil when
// nothing is pending.
func (a *Arbiter) Current() *Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return nil
	}
	return a.queue[0]
}

// Pending reports how many requests are waiting, the current one included.
func (a *Arbiter) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// Resolve answers the current request and advances the queue. Resolving
// with an empty queue is a no-op.
func (a *Arbiter) Resolve(choice Choice) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.queue) == 0 {
		return
	}
	req := a.queue[0]
	a.queue = a.queue[1:]

	switch choice {
	case ChoiceAlwaysAllow:
		// Cache before fulfilling so a waiter that immediately re-asks
		// sees the pattern.
		if req.PatternKey != "" {
			if a.allowed[req.ConversationID] == nil {
				a.allowed[req.ConversationID] = make(map[string]bool)
			}
			a.allowed[req.ConversationID][req.PatternKey] = true
		}
		req.decision <- true
	case ChoiceAllow:
		req.decision <- true
	default:
		req.decision <- false
	}
}

// Withdraw removes a request that no longer awaits a decision, wherever
// it sits in the queue. Withdrawing a request that was already resolved
// or never queued is a no-op.
func (a *Arbiter) Withdraw(req *Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, queued := range a.queue {
		if queued == req {
			a.queue = append(a.queue[:i], a.queue[i+1:]...)
			return
		}
	}
}

// IsAllowed reports whether a pattern was previously granted "always
// allow" in this conversation.
func (a *Arbiter) IsAllowed(conversationID, patternKey string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allowed[conversationID][patternKey]
}
