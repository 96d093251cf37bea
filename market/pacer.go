package market

import (
	"context"
	"math/rand"
	"time"

	"bmall_mirror/timeutil"
)

// Pacer sleeps a bounded random delay before every outbound request so
// the daemon does not emit a fixed-interval request fingerprint.
type Pacer struct {
	min   time.Duration
	max   time.Duration
	clock timeutil.Clock
	rng   *rand.Rand
}

func NewPacer(min, max time.Duration, clock timeutil.Clock) *Pacer {
	if max < min {
		max = min
	}
	return &Pacer{
		min:   min,
		max:   max,
		clock: clock,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait blocks for a uniform random delay in [min, max].
func (p *Pacer) Wait(ctx context.Context) {
	d := p.min
	if span := p.max - p.min; span > 0 {
		d += time.Duration(p.rng.Int63n(int64(span) + 1))
	}
	p.clock.Sleep(ctx, d)
}
