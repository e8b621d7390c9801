package transport

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackoff returns the reconnect delay source. With randomization
// disabled and a doubling multiplier the series is exactly
// base, 2*base, 4*base, ... for each successive attempt.
func newBackoff(base time.Duration, maxAttempts int) *backoff.ExponentialBackOff {
	shift := uint(maxAttempts)
	if shift > 20 {
		shift = 20
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	// Keep the cap above the attempt budget so no delay is ever clamped.
	b.MaxInterval = base << shift
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
