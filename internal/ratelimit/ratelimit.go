package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a keyed sliding-window rate limiter. Each key (user id, source
// address, device id) gets an independent window; expired entries are pruned
// lazily on access.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string][]time.Time
	now     func() time.Time
}

// NewLimiter constructs a Limiter allowing limit events per window per key
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether an event for key should be permitted, and records it
// if so. Denied events are not recorded.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	events := l.prune(key, now)

	if len(events) >= l.limit {
		l.windows[key] = events
		return false
	}

	l.windows[key] = append(events, now)
	return true
}

// Count returns the number of events currently inside the key's window
func (l *Limiter) Count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.prune(key, l.now())
	if len(events) == 0 {
		delete(l.windows, key)
		return 0
	}
	l.windows[key] = events
	return len(events)
}

// Reset clears every window. Deterministic alternative to waiting out the
// window in tests.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string][]time.Time)
}

func (l *Limiter) prune(key string, now time.Time) []time.Time {
	cut := now.Add(-l.window)
	events := l.windows[key]
	dst := events[:0]
	for _, t := range events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	return dst
}
