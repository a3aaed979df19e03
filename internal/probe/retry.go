package probe

import (
	"time"

	"cutover/internal/stack"
)

// Policy declares bounded-retry timing in one place so that pre-switch health
// checking and post-switch validation behave identically.
type Policy struct {
	// MaxAttempts is the number of probe attempts before giving up.
	MaxAttempts int

	// Interval is the delay between attempts.
	Interval time.Duration

	// AttemptTimeout bounds a single probe attempt.
	AttemptTimeout time.Duration

	// BackoffFactor multiplies the interval after each failed attempt.
	// 1.0 means a fixed interval.
	BackoffFactor float64
}

// PolicyFromSettings converts validated stack retry settings into a Policy.
func PolicyFromSettings(settings stack.RetrySettings) Policy {
	factor := settings.BackoffFactor
	if factor < 1.0 {
		factor = 1.0
	}
	return Policy{
		MaxAttempts:    settings.MaxAttempts,
		Interval:       time.Duration(settings.IntervalSeconds) * time.Second,
		AttemptTimeout: time.Duration(settings.AttemptTimeoutSeconds) * time.Second,
		BackoffFactor:  factor,
	}
}

// Delay returns the sleep duration after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if p.BackoffFactor <= 1.0 || attempt <= 1 {
		return p.Interval
	}

	delay := p.Interval
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.BackoffFactor)
	}
	return delay
}
