package client

import "time"

// Throttle admits at most one event per interval. The zero value with a positive
// interval admits its first event immediately. It is not safe for concurrent use.
type Throttle struct {
	interval time.Duration
	last     time.Time
	primed   bool
}

// NewThrottle creates a Throttle.
//
// Precondition: interval must be positive.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval}
}

// Allow reports whether an event at now is admitted, recording it if so.
//
// Precondition: now is not earlier than any previously admitted time.
func (t *Throttle) Allow(now time.Time) bool {
	if t.primed && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	t.primed = true
	return true
}

// Wait returns how long after now the next event would be admitted.
func (t *Throttle) Wait(now time.Time) time.Duration {
	if !t.primed {
		return 0
	}
	d := t.interval - now.Sub(t.last)
	if d < 0 {
		return 0
	}
	return d
}

// Reset forgets the last admitted event.
func (t *Throttle) Reset() {
	t.primed = false
	t.last = time.Time{}
}
