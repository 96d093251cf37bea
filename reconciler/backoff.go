package reconciler

import "time"

// failureThreshold is the number of consecutive upstream failures that
// triggers a pause before continuing.
const failureThreshold = 3

// backoff tracks consecutive upstream failures and grows the pause
// geometrically while errors persist. Any success resets it.
type backoff struct {
	base    time.Duration
	max     time.Duration
	factor  float64
	current time.Duration
	fails   int
}

func newBackoff(base, max time.Duration, factor float64) *backoff {
	return &backoff{base: base, max: max, factor: factor, current: base}
}

// Failure records one failed request. When the consecutive failure count
// reaches the threshold it returns the pause to take now and arms the
// next, longer pause.
func (b *backoff) Failure() (time.Duration, bool) {
	b.fails++
	if b.fails < failureThreshold {
		return 0, false
	}
	b.fails = 0
	pause := b.current
	next := time.Duration(float64(b.current) * b.factor)
	if next > b.max {
		next = b.max
	}
	b.current = next
	return pause, true
}

// Success resets the failure count and the pause length.
func (b *backoff) Success() {
	b.fails = 0
	b.current = b.base
}
