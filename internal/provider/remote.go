package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/breaker"
	"github.com/medialibrarian/curator/internal/eventbus"
	"github.com/medialibrarian/curator/internal/httpclient"
	"github.com/medialibrarian/curator/internal/ratelimit"
	"github.com/medialibrarian/curator/internal/retry"
)

// remoteGuard bundles the RateLimiter -> RetryStrategy -> CircuitBreaker
// stack every non-local adapter wraps its HTTP calls in (spec.md §4.6,
// innermost-outward: limiter, then retry, then breaker - the limiter sits
// closest to fn so every retried attempt, not just the first, consumes a
// token). Concrete adapters (tmdb.go, and any sibling catalog adapter)
// embed this rather than re-deriving it.
type remoteGuard struct {
	providerID  string
	limiter     *ratelimit.Limiter
	breaker     *breaker.Breaker
	retryPolicy retry.Policy
	client      *http.Client
	bus         *eventbus.Bus
}

func newRemoteGuard(providerID string, decl RateLimitDecl, timeout time.Duration, breakerResetDelay time.Duration, bus *eventbus.Bus) remoteGuard {
	return remoteGuard{
		providerID: providerID,
		limiter:    ratelimit.New(decl.RequestsPerSecond, 1, decl.BurstCapacity),
		breaker:    breaker.New(providerID, breaker.Config{ResetTimeout: breakerResetDelay}),
		retryPolicy: retry.Policy{
			InitialDelay:   200 * time.Millisecond,
			Multiplier:     2,
			MaxDelay:       5 * time.Second,
			MaxAttempts:    4,
			JitterFraction: 0.2,
			Classify:       apperr.IsRetryable,
		},
		client: httpclient.Default(timeout),
		bus:    bus,
	}
}

// RateLimitPressureEvent is published on eventbus.TopicRateLimitPressure
// when a provider's rate limit is hit hard enough that an entire call,
// including retries, never returned data. ScheduledEnricher subscribes to
// this to abort a bulk-enrich cycle early rather than hammer an
// already-exhausted quota (spec.md §4.13).
type RateLimitPressureEvent struct {
	Provider string
	NoData   bool
}

// do runs fn guarded by the full limiter -> retry -> breaker stack, using
// priority to decide whether fn may dip into the limiter's burst capacity.
func (g *remoteGuard) do(ctx context.Context, priority ratelimit.Priority, fn func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	var resp *http.Response
	breakerErr := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, g.retryPolicy, func(ctx context.Context) error {
			return g.limiter.Execute(ctx, priority, func(ctx context.Context) error {
				r, err := fn(ctx)
				if err != nil {
					return apperr.New(apperr.Network, err).WithProvider(g.providerID)
				}
				if classifyErr := httpclient.ClassifyResponse(r); classifyErr != nil {
					httpclient.DrainAndClose(r)
					return classifyErr
				}
				resp = r
				return nil
			})
		})
	})
	if breakerErr != nil {
		if code, ok := apperr.CodeOf(breakerErr); ok && code == apperr.RateLimit && g.bus != nil {
			g.bus.Publish(eventbus.TopicRateLimitPressure, RateLimitPressureEvent{Provider: g.providerID, NoData: true})
		}
		return nil, breakerErr
	}
	return resp, nil
}
