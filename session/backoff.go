package session

import (
	"time"

	"github.com/cenkalti/backoff"
)

// newBackOff yields min(base*2^n, max) for the n-th consecutive retry. Jitter
// is off so the delays are exactly reproducible.
func newBackOff(base, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
