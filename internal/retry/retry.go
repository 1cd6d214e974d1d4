// Package retry implements capped exponential backoff with jitter, in the
// style of the teacher's internal/httpclient.DoWithRetry, generalized from
// "retry this HTTP response code" to "retry this taxonomized error".
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy controls backoff timing. Classify decides whether an error should
// be retried at all; apperr.IsRetryable is the usual choice.
type Policy struct {
	InitialDelay   time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	MaxAttempts    int // total attempts, including the first
	JitterFraction float64
	Classify       func(err error) bool
	// OnRetry, when set, is called after each retryable failure before the
	// sleep, for logging.
	OnRetry func(err error, attempt int, delay time.Duration)
}

func (p Policy) withDefaults() Policy {
	if p.InitialDelay <= 0 {
		p.InitialDelay = 500 * time.Millisecond
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
	if p.Classify == nil {
		p.Classify = func(err error) bool { return err != nil }
	}
	return p
}

// Do invokes fn, retrying on retryable errors per Policy. It returns the last
// error seen once attempts are exhausted, or immediately on a non-retryable
// error. Context cancellation aborts the wait between attempts.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	policy = policy.withDefaults()
	delay := policy.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !policy.Classify(err) || attempt == policy.MaxAttempts {
			return err
		}

		wait := jitter(delay, policy.JitterFraction)
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt, wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return lastErr
}

// jitter returns d adjusted by up to ±fraction, never negative.
func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	spread := float64(d) * fraction
	delta := time.Duration(rand.Float64()*2*spread) - time.Duration(spread)
	result := d + delta
	if result < 0 {
		return 0
	}
	return result
}
