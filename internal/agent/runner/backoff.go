package runner

import (
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MinRetryDelay is the floor applied to every computed retry delay,
// including server-provided retry-after hints.
const MinRetryDelay = 600 * time.Millisecond

// JitterRange is the half-open range [0, JitterRange) of random jitter
// added to exponential backoff delays.
const JitterRange = 300 * time.Millisecond

// BackoffConfig controls retry pacing for rate-limited provider calls.
type BackoffConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// MinDelay replaces the MinRetryDelay floor when positive. Tests lower
	// it so retry paths don't sleep for real.
	MinDelay time.Duration
}

// DefaultBackoff returns the stock retry policy: three attempts,
// one second base delay, thirty second ceiling.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

var rateLimitSignatures = []string{
	"429",
	"rate limit",
	"too many requests",
	"quota exceeded",
}

// IsRateLimitError reports whether err looks like a provider rate limit.
// Matching is case-insensitive substring search over the error text.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range rateLimitSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

var retryAfterPattern = regexp.MustCompile(`(?i)retry-after\s*[:=]\s*(\d+)\s*(ms)?`)

// ParseRetryAfterHint extracts a server-provided retry delay from an error
// message. A bare number is seconds; an "ms" suffix means milliseconds.
// Returns false when no hint is present or the value is non-positive.
func ParseRetryAfterHint(msg string) (time.Duration, bool) {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	if m[2] != "" {
		return time.Duration(n) * time.Millisecond, true
	}
	return time.Duration(n) * time.Second, true
}

// Delay computes the wait before retry attempt+1. A parsable retry-after
// hint in the error text wins over exponential backoff; either way the
// result is clamped to [floor, cfg.MaxDelay] where floor is cfg.MinDelay
// or MinRetryDelay.
func (cfg BackoffConfig) Delay(attempt int, err error) time.Duration {
	if err != nil {
		if hint, ok := ParseRetryAfterHint(err.Error()); ok {
			return cfg.clamp(hint)
		}
	}
	base := cfg.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := base << (attempt - 1)
	d += time.Duration(rand.Int63n(int64(JitterRange)))
	return cfg.clamp(d)
}

func (cfg BackoffConfig) clamp(d time.Duration) time.Duration {
	floor := cfg.MinDelay
	if floor <= 0 {
		floor = MinRetryDelay
	}
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if d < floor {
		d = floor
	}
	return d
}
