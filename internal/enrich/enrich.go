// Package enrich implements ScheduledEnricher (spec.md §4.13): it selects
// entities due for enrichment and runs a bulk-enrich cycle that enqueues one
// enrich-metadata job per candidate, stopping early if a provider reports a
// hard rate limit with no data returned. The single-in-flight-cycle guard
// follows the teacher's atomic-flag pattern for coordinating concurrent
// callers without a mutex (internal/tuner/gateway.go's startedSignal).
package enrich

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/medialibrarian/curator/internal/entity"
	"github.com/medialibrarian/curator/internal/eventbus"
	"github.com/medialibrarian/curator/internal/model"
	"github.com/medialibrarian/curator/internal/provider"
)

// Enqueuer is the narrow job-enqueuing capability bulk-enrich cycles use.
type Enqueuer interface {
	Enqueue(ctx context.Context, job model.Job) (int64, error)
}

// Config bounds one ScheduledEnricher.
type Config struct {
	// StaleAfter is how old last_scraped_at must be for an already-scraped
	// entity to be considered a candidate again.
	StaleAfter time.Duration
	// BatchLimit caps how many entities one cycle enqueues.
	BatchLimit int
}

func (c Config) withDefaults() Config {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 7 * 24 * time.Hour
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 500
	}
	return c
}

// Stats is the per-cycle result spec.md §4.13 names.
type Stats struct {
	Processed   int
	Stopped     bool
	StopReason  string
	StartTime   time.Time
	EndTime     time.Time
}

// Enricher runs bulk-enrich cycles. Only one cycle may be in flight at a
// time, guarded by the running latch; a concurrent RunCycle call returns
// immediately with Stopped=true, StopReason="already_running".
type Enricher struct {
	entities            entity.Store
	queue               Enqueuer
	cfg                 Config
	running             int32
	aborted             int32
	rateLimitedProvider atomic.Value // string, the provider that tripped aborted
}

// New constructs an Enricher. When bus is non-nil, the Enricher subscribes
// once to eventbus.TopicRateLimitPressure for its whole lifetime; a
// hard-rate-limit-with-no-data signal received since the previous cycle
// ended, or during the current one, stops the current cycle early.
func New(entities entity.Store, queue Enqueuer, cfg Config, bus *eventbus.Bus) *Enricher {
	e := &Enricher{entities: entities, queue: queue, cfg: cfg.withDefaults()}
	if bus != nil {
		events, _ := bus.Subscribe(eventbus.TopicRateLimitPressure)
		go func() {
			for evt := range events {
				if rl, ok := evt.Payload.(provider.RateLimitPressureEvent); ok && rl.NoData {
					e.rateLimitedProvider.Store(rl.Provider)
					atomic.StoreInt32(&e.aborted, 1)
				}
			}
		}()
	}
	return e
}

// RunCycle is the bulk-enrich sweep: select candidates via
// ListEnrichmentCandidates, enqueue enrich-metadata jobs with
// requireComplete=true, stopping at BatchLimit or on rate-limit pressure.
func (e *Enricher) RunCycle(ctx context.Context) Stats {
	stats := Stats{StartTime: time.Now().UTC()}
	if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
		stats.Stopped = true
		stats.StopReason = "already_running"
		stats.EndTime = stats.StartTime
		return stats
	}
	defer atomic.StoreInt32(&e.running, 0)
	defer atomic.StoreInt32(&e.aborted, 0)

	candidates, err := e.entities.ListEnrichmentCandidates(ctx, time.Now().Add(-e.cfg.StaleAfter), e.cfg.BatchLimit)
	if err != nil {
		stats.Stopped = true
		stats.StopReason = "candidate_lookup_failed: " + err.Error()
		stats.EndTime = time.Now().UTC()
		return stats
	}

	for _, c := range candidates {
		if atomic.LoadInt32(&e.aborted) == 1 {
			stats.Stopped = true
			stats.StopReason = "rate_limited:" + rateLimitedProviderName(e.rateLimitedProvider.Load())
			break
		}
		if ctx.Err() != nil {
			stats.Stopped = true
			stats.StopReason = "context_cancelled"
			break
		}
		_, err := e.queue.Enqueue(ctx, model.Job{
			Type:     model.JobEnrichMetadata,
			Priority: model.PriorityLow,
			Payload: map[string]any{
				"entityId":        c.ID,
				"requireComplete": true,
			},
			MaxRetries: 3,
		})
		if err != nil {
			stats.Stopped = true
			stats.StopReason = "enqueue_failed: " + err.Error()
			break
		}
		stats.Processed++
	}

	stats.EndTime = time.Now().UTC()
	return stats
}

// rateLimitedProviderName renders the value stored in
// Enricher.rateLimitedProvider, falling back to "unknown" for the
// zero-value case (aborted set without a provider ever having been stored,
// which shouldn't happen but would otherwise panic the type assertion).
func rateLimitedProviderName(v any) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return "unknown"
}
