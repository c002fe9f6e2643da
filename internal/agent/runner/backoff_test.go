package runner

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRateLimitError(t *testing.T) {
	for _, msg := range []string{
		"HTTP 429 from upstream",
		"Rate Limit exceeded",
		"Too Many Requests",
		"monthly quota exceeded",
	} {
		assert.True(t, IsRateLimitError(errors.New(msg)), msg)
	}

	assert.False(t, IsRateLimitError(nil))
	assert.False(t, IsRateLimitError(errors.New("connection refused")))
	assert.False(t, IsRateLimitError(errors.New("invalid api key")))
}

func TestParseRetryAfterHint(t *testing.T) {
	d, ok := ParseRetryAfterHint("429: retry-after: 5")
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, d)

	d, ok = ParseRetryAfterHint("Retry-After=1500ms")
	require.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, ok = ParseRetryAfterHint("retry-after = 2 ms")
	require.True(t, ok)
	assert.Equal(t, 2*time.Millisecond, d)

	_, ok = ParseRetryAfterHint("retry-after: 0")
	assert.False(t, ok)

	_, ok = ParseRetryAfterHint("rate limit exceeded")
	assert.False(t, ok)

	_, ok = ParseRetryAfterHint("retry-after soon")
	assert.False(t, ok)
}

func TestDelayUsesHint(t *testing.T) {
	cfg := BackoffConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

	// Hint wins over backoff.
	d := cfg.Delay(1, errors.New("429 retry-after: 5"))
	assert.Equal(t, 5*time.Second, d)

	// Tiny hints are floored.
	d = cfg.Delay(1, errors.New("429 retry-after=2ms"))
	assert.Equal(t, MinRetryDelay, d)

	// Huge hints are capped.
	d = cfg.Delay(1, errors.New("429 retry-after: 3600"))
	assert.Equal(t, 30*time.Second, d)
}

func TestDelayHonorsCustomFloor(t *testing.T) {
	cfg := BackoffConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, MinDelay: time.Millisecond}

	// A lowered floor lets tiny hints through instead of padding them to
	// MinRetryDelay.
	d := cfg.Delay(1, errors.New("429 retry-after=2ms"))
	assert.Equal(t, 2*time.Millisecond, d)
}

func TestDelayExponential(t *testing.T) {
	cfg := BackoffConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	err := errors.New("rate limit")

	for attempt := 1; attempt <= 4; attempt++ {
		base := cfg.BaseDelay << (attempt - 1)
		d := cfg.Delay(attempt, err)
		assert.GreaterOrEqual(t, d, base, "attempt %d", attempt)
		assert.Less(t, d, base+JitterRange, "attempt %d", attempt)
	}

	// Deep attempts hit the ceiling.
	d := cfg.Delay(10, err)
	assert.Equal(t, 30*time.Second, d)
}
