package client

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// LinearBackOff waits attempt*Base before retry number attempt and stops after Max retries.
// It is not safe for concurrent use.
type LinearBackOff struct {
	Base time.Duration
	Max  int

	attempts int
}

var _ backoff.BackOff = (*LinearBackOff)(nil)

// NewLinearBackOff creates a policy with the given base delay and retry cap.
func NewLinearBackOff(base time.Duration, maxAttempts int) *LinearBackOff {
	return &LinearBackOff{Base: base, Max: maxAttempts}
}

// NextBackOff returns the delay before the next retry, or backoff.Stop once Max
// retries have been handed out.
func (b *LinearBackOff) NextBackOff() time.Duration {
	if b.attempts >= b.Max {
		return backoff.Stop
	}
	b.attempts++
	return time.Duration(b.attempts) * b.Base
}

// Reset restarts the schedule from the first retry.
func (b *LinearBackOff) Reset() {
	b.attempts = 0
}

// Attempts returns the number of retries handed out since the last Reset.
func (b *LinearBackOff) Attempts() int {
	return b.attempts
}
