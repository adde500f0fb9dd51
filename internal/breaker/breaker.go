package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned while the breaker is open: the guarded dependency is
// not attempted at all.
var ErrOpen = errors.New("service unavailable: circuit breaker open")

// Breaker counts consecutive failures of a guarded dependency. At the
// threshold it opens and fails calls fast; after the cooldown it resets its
// counter and lets a probing call through.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	open      bool
	openedAt  time.Time
	now       func() time.Time
}

// New constructs a Breaker opening after threshold consecutive failures
func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. While open and inside the
// cooldown it returns ErrOpen without touching the dependency; once the
// cooldown elapses the breaker closes again for a probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}

	if b.now().Sub(b.openedAt) < b.cooldown {
		return ErrOpen
	}

	// Cooldown elapsed: half-open, counter restarts for the probe.
	b.open = false
	b.failures = 0
	return nil
}

// Success records a successful call, closing the failure streak
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Failure records a failed call, opening the breaker at the threshold
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.threshold {
		b.open = true
		b.openedAt = b.now()
	}
}

// Execute runs fn under the breaker, recording its outcome
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	if err := fn(); err != nil {
		b.Failure()
		return err
	}

	b.Success()
	return nil
}

// IsOpen reports whether the breaker is currently open
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Reset deterministically closes the breaker and clears its counter
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.failures = 0
}
