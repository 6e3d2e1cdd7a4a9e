package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RateLimitResult is the outcome of a single rate-limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type rateWindow struct {
	count        int
	resetAt      time.Time
	blockedUntil time.Time
}

// RateLimiter is a per-process sliding-window counter with progressive
// blocking. It bounds abuse within one instance only; state is neither
// persisted nor shared, so under multi-instance deployment each process
// enforces its own budget. Treat it as defense in depth, not a security
// boundary.
//
// The clock is injected so tests can drive it deterministically.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	now     func() time.Time
}

// NewRateLimiter creates a limiter. Pass nil to use the wall clock.
func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		windows: make(map[string]*rateWindow),
		now:     now,
	}
}

// Check counts one request for the subject and reports whether it is
// allowed. Exceeding the limit blocks the subject for block × min(overBy, 5);
// a zero block duration falls back to the window length. Checks during a
// block are denied without counting.
func (l *RateLimiter) Check(subject string, limit int, window, block time.Duration) RateLimitResult {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[subject]
	if !ok {
		l.windows[subject] = &rateWindow{count: 1, resetAt: now.Add(window)}
		return RateLimitResult{Allowed: true, Remaining: limit - 1}
	}

	if !w.blockedUntil.IsZero() && now.Before(w.blockedUntil) {
		return RateLimitResult{RetryAfter: w.blockedUntil.Sub(now)}
	}

	if now.After(w.resetAt) {
		w.count = 1
		w.resetAt = now.Add(window)
		w.blockedUntil = time.Time{}
		return RateLimitResult{Allowed: true, Remaining: limit - 1}
	}

	w.count++
	if w.count > limit {
		// Progressive block: scales with how far past the limit the
		// subject keeps pushing, capped at 5x.
		times := w.count - limit
		if times > 5 {
			times = 5
		}
		d := block
		if d <= 0 {
			d = window
		}
		d *= time.Duration(times)
		w.blockedUntil = now.Add(d)
		return RateLimitResult{RetryAfter: d}
	}

	return RateLimitResult{Allowed: true, Remaining: limit - w.count}
}

// Sweep drops windows whose reset and block deadlines have both passed.
func (l *RateLimiter) Sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for subject, w := range l.windows {
		if now.After(w.resetAt) && (w.blockedUntil.IsZero() || now.After(w.blockedUntil)) {
			delete(l.windows, subject)
		}
	}
}

// StartAutoSweep runs Sweep on a ticker until the context is cancelled.
func (l *RateLimiter) StartAutoSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
				log.Debug().Int("windows", l.Len()).Msg("Rate limit windows swept")
			}
		}
	}()
}

// Len reports the number of live windows.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
