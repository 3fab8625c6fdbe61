package ticker

import (
	"sync"
	"time"
)

const (
	backoffBase   = 1000 * time.Millisecond
	backoffGrowth = 1.5
	backoffCap    = 10000 * time.Millisecond
)

// BackoffScheduler computes reconnect delay from the consecutive-failure
// count and owns the single pending retry timer. Delays grow
// base * growth^attempt, clamped at the cap, so backoff is monotonically
// non-decreasing per failure streak.
type BackoffScheduler struct {
	mu      sync.Mutex
	attempt int
	timer   *time.Timer
}

func NewBackoffScheduler() *BackoffScheduler {
	return &BackoffScheduler{}
}

func delayFor(attempt int) time.Duration {
	d := float64(backoffBase)
	for i := 0; i < attempt && d < float64(backoffCap); i++ {
		d *= backoffGrowth
	}
	if d > float64(backoffCap) {
		d = float64(backoffCap)
	}
	return time.Duration(d)
}

// Schedule clears any pending timer, arms a one-shot retry for the current
// attempt's delay, and increments the attempt counter. Returns the delay.
func (b *BackoffScheduler) Schedule(fn func()) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
	d := delayFor(b.attempt)
	b.attempt++
	b.timer = time.AfterFunc(d, fn)
	return d
}

// Reset zeroes the attempt counter; called once a connection reaches Open.
func (b *BackoffScheduler) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

// Stop cancels the pending retry, if any.
func (b *BackoffScheduler) Stop() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
}

// Attempt returns the consecutive-failure count, for health reporting.
func (b *BackoffScheduler) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}
