package dicekv

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newAcquireBackoff returns the wait schedule used while the pool is at
// capacity: base, 2*base, 4*base... capped at max. It never gives up, the
// acquire context bounds the total wait.
func newAcquireBackoff(base, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
