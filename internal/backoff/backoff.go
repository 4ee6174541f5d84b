// Package backoff implements the exponential delay used between failed
// iterations of the main loop.
package backoff

import "time"

// Backoff produces exponentially increasing delays, doubling from Base up to
// Max. It is not safe for concurrent use; the engine owns exactly one.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	cur time.Duration
}

// New creates a Backoff with the given base and cap.
func New(base, max time.Duration) *Backoff {
	return &Backoff{Base: base, Max: max}
}

// Next returns the delay to sleep before the next attempt and advances the
// internal state. The first call after a Reset returns Base.
func (b *Backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.Base
	}
	d := b.cur
	b.cur *= 2
	if b.cur > b.Max {
		b.cur = b.Max
	}
	return d
}

// Reset returns the backoff to its base delay. Called after any iteration
// that completes without error.
func (b *Backoff) Reset() {
	b.cur = 0
}
