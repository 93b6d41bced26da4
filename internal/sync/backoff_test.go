package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	p := Backoff{Base: 100 * time.Millisecond, Max: time.Second}.policy()

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for attempt, w := range want {
		assert.Equal(t, w, p.NextBackOff(), "attempt %d", attempt)
	}

	p.Reset()
	assert.Equal(t, 100*time.Millisecond, p.NextBackOff(), "reset starts over")
}

func TestBackoffJitterBounds(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute, Jitter: 0.5}

	for range 50 {
		d := b.policy().NextBackOff()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestBackoffNeverGivesUp(t *testing.T) {
	p := Backoff{Base: time.Millisecond, Max: time.Millisecond}.policy()
	for range 1000 {
		assert.Equal(t, time.Millisecond, p.NextBackOff())
	}
}

func TestBackoffFallsBackToDefault(t *testing.T) {
	p := Backoff{}.policy()
	assert.Equal(t, DefaultBackoff.Base, p.InitialInterval)
	assert.Equal(t, DefaultBackoff.Max, p.MaxInterval)
	assert.InDelta(t, DefaultBackoff.Jitter, p.RandomizationFactor, 1e-9)
}

func TestBackoffClampsJitter(t *testing.T) {
	assert.InDelta(t, 1.0, Backoff{Base: time.Second, Jitter: 3}.policy().RandomizationFactor, 1e-9)
	assert.InDelta(t, 0.0, Backoff{Base: time.Second, Jitter: -1}.policy().RandomizationFactor, 1e-9)
}
