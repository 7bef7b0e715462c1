package outbox

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultBaseDelay = time.Second
	defaultMaxDelay  = 5 * time.Minute
	minRetryDelay    = time.Millisecond
	backoffFactor    = 2
)

// Backoff computes the delay before the given attempt number (1-based) is retried.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// BackoffFunc adapts a function to Backoff.
type BackoffFunc func(attempt int) time.Duration

// Delay implements Backoff.
func (fn BackoffFunc) Delay(attempt int) time.Duration {
	return fn(attempt)
}

// ExponentialBackoff doubles the delay from Base on every attempt, capped at Max. No jitter is
// applied so schedules are deterministic under a fixed clock.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay implements Backoff.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	base, maxDelay := b.Base, b.Max
	if base <= 0 {
		base = defaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	if base >= maxDelay {
		return maxDelay
	}

	schedule := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          backoffFactor,
		MaxInterval:         maxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	schedule.Reset()

	delay := schedule.NextBackOff()
	for i := 1; i < attempt && delay < maxDelay; i++ {
		delay = schedule.NextBackOff()
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}

// nextAttemptAt returns a schedule strictly after now.
func nextAttemptAt(now time.Time, delay time.Duration) time.Time {
	if delay < minRetryDelay {
		delay = minRetryDelay
	}

	return now.Add(delay)
}
