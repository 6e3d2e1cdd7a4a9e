package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests drive the limiter deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	clock := newFakeClock()
	l := NewRateLimiter(clock.Now)

	for i := 0; i < 10; i++ {
		res := l.Check("hwid:abc", 10, time.Minute, 0)
		require.True(t, res.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 10-i-1, res.Remaining)
	}

	res := l.Check("hwid:abc", 10, time.Minute, 0)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Minute, res.RetryAfter, "zero block falls back to the window length")
}

func TestRateLimiterSubjectsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := NewRateLimiter(clock.Now)

	for i := 0; i < 3; i++ {
		l.Check("ip:1.2.3.4", 2, time.Minute, 0)
	}

	res := l.Check("ip:5.6.7.8", 2, time.Minute, 0)
	assert.True(t, res.Allowed)
}

func TestRateLimiterWindowReset(t *testing.T) {
	clock := newFakeClock()
	l := NewRateLimiter(clock.Now)

	for i := 0; i < 2; i++ {
		require.True(t, l.Check("hwid:abc", 2, time.Minute, 0).Allowed)
	}

	clock.Advance(61 * time.Second)
	res := l.Check("hwid:abc", 2, time.Minute, 0)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}

func TestRateLimiterProgressiveBlock(t *testing.T) {
	clock := newFakeClock()
	l := NewRateLimiter(clock.Now)
	block := 5 * time.Second

	// Window far longer than the blocks so it never resets mid-test.
	l.Check("hwid:abc", 1, time.Hour, block)

	// Each counted violation past the limit stretches the block, capped
	// at 5x. Advance past each block so the next check counts again.
	expected := []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second,
		20 * time.Second, 25 * time.Second, 25 * time.Second}
	for i, want := range expected {
		res := l.Check("hwid:abc", 1, time.Hour, block)
		require.False(t, res.Allowed)
		assert.Equal(t, want, res.RetryAfter, "violation %d", i+1)
		clock.Advance(res.RetryAfter + time.Millisecond)
	}
}

func TestRateLimiterDeniedWhileBlockedWithoutCounting(t *testing.T) {
	clock := newFakeClock()
	l := NewRateLimiter(clock.Now)
	block := 10 * time.Second

	l.Check("hwid:abc", 1, time.Minute, block)
	res := l.Check("hwid:abc", 1, time.Minute, block)
	require.False(t, res.Allowed)
	require.Equal(t, block, res.RetryAfter)

	// Mid-block checks report the remaining time and do not escalate.
	clock.Advance(4 * time.Second)
	res = l.Check("hwid:abc", 1, time.Minute, block)
	assert.False(t, res.Allowed)
	assert.Equal(t, 6*time.Second, res.RetryAfter)
}

func TestRateLimiterSweep(t *testing.T) {
	clock := newFakeClock()
	l := NewRateLimiter(clock.Now)

	for i := 0; i < 50; i++ {
		l.Check(fmt.Sprintf("ip:10.0.0.%d", i), 10, time.Minute, 0)
	}
	require.Equal(t, 50, l.Len())

	l.Sweep()
	assert.Equal(t, 50, l.Len(), "live windows survive the sweep")

	clock.Advance(2 * time.Minute)
	l.Sweep()
	assert.Equal(t, 0, l.Len())
}

func TestRateLimiterSweepKeepsBlockedSubjects(t *testing.T) {
	clock := newFakeClock()
	l := NewRateLimiter(clock.Now)

	l.Check("hwid:abc", 1, time.Minute, 10*time.Minute)
	l.Check("hwid:abc", 1, time.Minute, 10*time.Minute)

	clock.Advance(2 * time.Minute)
	l.Sweep()
	require.Equal(t, 1, l.Len(), "a blocked subject must not be forgotten by the sweep")

	res := l.Check("hwid:abc", 1, time.Minute, 10*time.Minute)
	assert.False(t, res.Allowed)
}
