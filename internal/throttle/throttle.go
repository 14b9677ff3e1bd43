// Package throttle gates storage writes to a fixed cadence, independent of
// how often a sampler produces snapshots.
package throttle

import (
	"sync"
	"time"

	"hostwatch/internal/clock"
)

type Throttle struct {
	interval time.Duration
	clock    clock.Clock

	mu   sync.Mutex
	last time.Time
}

func New(interval time.Duration, c clock.Clock) *Throttle {
	if c == nil {
		c = clock.Real()
	}
	return &Throttle{interval: interval, clock: c}
}

// Allow reports whether interval has elapsed since the last allowed call
// and, if so, records now as the new reference point. Calls arriving up to
// a tenth of the interval early still pass, so a sampler ticking at the
// same period as the gate is not skipped over scheduling jitter.
func (t *Throttle) Allow() bool {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval-t.interval/10 {
		return false
	}
	t.last = now
	return true
}

func (t *Throttle) Interval() time.Duration { return t.interval }
