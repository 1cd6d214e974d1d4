// Package breaker wraps sony/gobreaker with the per-provider semantics of
// spec.md §4.2: closed -> open -> half-open on consecutive failures, a single
// probe call in half-open, and translation of the tripped state into the
// PROVIDER_UNAVAILABLE taxonomy code.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/medialibrarian/curator/internal/apperr"
)

// Config controls a single provider's breaker.
type Config struct {
	// Threshold is the number of consecutive failures that trips the breaker
	// open. Default 5.
	Threshold uint32
	// ResetTimeout is how long the breaker stays open before allowing a
	// half-open probe. Default 5 minutes.
	ResetTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold == 0 {
		c.Threshold = 5
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = 5 * time.Minute
	}
	return c
}

// Breaker guards calls to a single remote provider.
type Breaker struct {
	provider string
	cb       *gobreaker.CircuitBreaker
}

// New builds a Breaker for the named provider.
func New(provider string, cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	settings := gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1, // exactly one probe call allowed in half-open
		Interval:    0, // never reset failure counts on a timer while closed
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Threshold
		},
	}
	return &Breaker{provider: provider, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn guarded by the breaker. If the breaker is open or the
// half-open probe slot is already taken, it returns a PROVIDER_UNAVAILABLE
// error without calling fn. Any error returned by fn is treated as a failure
// by the underlying state machine (counted towards the open threshold) and
// is returned to the caller unchanged so upstream retry logic can classify
// it on its own merits.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.New(apperr.ProviderUnavailable, err).WithProvider(b.provider)
	}
	return err
}

// State reports the current breaker state as a string for observability.
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Counts exposes the current failure/success counters for metrics export.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}
