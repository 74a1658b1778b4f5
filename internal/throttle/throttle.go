// Package throttle bounds how many new positions may be opened within a
// trailing time window.
package throttle

import (
	"sync"
	"time"
)

// Throttler is a rolling-window admission limiter. It is safe for concurrent use.
type Throttler struct {
	mu         sync.Mutex
	admissions []time.Time
	limit      int
	window     time.Duration
	now        func() time.Time
}

// New creates a throttler admitting at most limit events per window.
// A non-positive limit disables admission entirely.
func New(limit int, window time.Duration) *Throttler {
	return &Throttler{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// WithClock replaces the time source.
func (t *Throttler) WithClock(now func() time.Time) *Throttler {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
	return t
}

// prune drops admissions that left the window. Caller holds mu.
func (t *Throttler) prune(now time.Time) {
	windowStart := now.Add(-t.window)
	keep := t.admissions[:0]
	for _, ts := range t.admissions {
		if ts.After(windowStart) {
			keep = append(keep, ts)
		}
	}
	t.admissions = keep
}

// ShouldThrottle reports whether granting n more admissions now would exceed the limit.
func (t *Throttler) ShouldThrottle(n int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(t.now())
	return len(t.admissions)+n > t.limit
}

// Record registers n admissions at the current time.
func (t *Throttler) Record(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.prune(now)
	for i := 0; i < n; i++ {
		t.admissions = append(t.admissions, now)
	}
}

// TryAdmit atomically checks for room and records one admission.
func (t *Throttler) TryAdmit() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.prune(now)
	if len(t.admissions)+1 > t.limit {
		return false
	}
	t.admissions = append(t.admissions, now)
	return true
}

// InWindow returns the number of admissions inside the current window.
func (t *Throttler) InWindow() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(t.now())
	return len(t.admissions)
}

func (t *Throttler) Limit() int { return t.limit }
func (t *Throttler) Window() time.Duration { return t.window }
