package lock

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Backoff produces jittered sleeps that double from an initial interval up to
// a ceiling. A Backoff is used by one goroutine at a time.
type Backoff struct {
	exp *backoff.ExponentialBackOff
	max time.Duration
}

// NewBackoff returns a Backoff starting at initial and never sleeping longer
// than max.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = time.Microsecond
	}
	if max < initial {
		max = initial
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.MaxInterval = max
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.5
	exp.Reset()
	return &Backoff{exp: exp, max: max}
}

// NewBackoffMicros is NewBackoff in whole microseconds.
func NewBackoffMicros(initialMicros, maxMicros int64) *Backoff {
	return NewBackoff(time.Duration(initialMicros)*time.Microsecond, time.Duration(maxMicros)*time.Microsecond)
}

// Next returns the next sleep interval.
func (b *Backoff) Next() time.Duration {
	d := b.exp.NextBackOff()
	if d == backoff.Stop || d > b.max {
		return b.max
	}
	return d
}

// Sleep blocks for the next interval.
func (b *Backoff) Sleep() { time.Sleep(b.Next()) }

// Reset starts the sequence over.
func (b *Backoff) Reset() { b.exp.Reset() }

// Interval returns the jittered sleep for the given zero-based attempt:
// 2^attempt microseconds, capped at maxMicros, scaled by a random factor in
// [0.5, 1.0].
func Interval(attempt int, maxMicros int64) time.Duration {
	if maxMicros <= 0 {
		return 0
	}
	ceiling := time.Duration(maxMicros) * time.Microsecond
	base := ceiling
	if attempt >= 0 && attempt < 62 && int64(1)<<attempt < maxMicros {
		base = time.Duration(int64(1)<<attempt) * time.Microsecond
	}
	// center ± center/3 spans [0.5, 1.0] of base.
	center := base * 3 / 4
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     center,
		RandomizationFactor: 1.0 / 3,
		Multiplier:          1,
		MaxInterval:         center,
	}
	d := exp.NextBackOff()
	if d > ceiling {
		d = ceiling
	}
	return d
}

// Sleep sleeps for Interval(attempt, maxMicros).
func Sleep(attempt int, maxMicros int64) {
	time.Sleep(Interval(attempt, maxMicros))
}
