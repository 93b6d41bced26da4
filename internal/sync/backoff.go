package sync

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff configures reconnect delays: the base delay doubles per attempt
// up to Max, then a ±Jitter fraction is applied so many clients don't
// reconnect in lockstep.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// DefaultBackoff is used when the configured values are unusable.
var DefaultBackoff = Backoff{Base: time.Second, Max: 30 * time.Second, Jitter: 0.2}

// policy builds the retry schedule. It never stops on elapsed time; the
// channel keeps reconnecting until its context ends.
func (b Backoff) policy() *backoff.ExponentialBackOff {
	if b.Base <= 0 {
		b = DefaultBackoff
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.Base
	exp.MaxInterval = b.Max
	exp.Multiplier = 2
	exp.RandomizationFactor = clampRatio(b.Jitter)
	exp.MaxElapsedTime = 0
	exp.Reset()
	return exp
}

func clampRatio(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
