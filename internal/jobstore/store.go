// Package jobstore implements the durable priority queue described in
// spec.md §4.9: atomic claim, priority/FIFO ordering, retry bookkeeping (a
// failed job returns to pending at once, with no backoff delay), crash
// (stall) recovery, and history retention. The default
// backend is sqlite-backed (sqlite.go); an in-memory backend (memstore.go)
// satisfies the same Store interface for tests and for the "alternative
// backend" note in spec.md.
package jobstore

import (
	"context"
	"time"

	"github.com/medialibrarian/curator/internal/model"
)

// ListFilter narrows List to a subset of active jobs. Zero values mean "no
// filter" on that dimension. History rows are never returned by List.
type ListFilter struct {
	Status model.JobStatus
	Type   model.JobType
	Limit  int
}

// Stats is the snapshot returned by Store.Stats.
type Stats struct {
	Pending               int
	Processing            int
	TotalActive           int
	OldestPendingAgeSeconds float64
}

// HistoryCleanupSpec gives the per-outcome-class retention cutoff, in days,
// used by CleanupHistory.
type HistoryCleanupSpec struct {
	CompletedDays int
	FailedDays    int
}

// Store is the durable job queue contract. Implementations must satisfy:
//   - PickNext is linearizable: concurrent callers each get a distinct job or nil.
//   - Retry/Fail/Complete never leave a job in two places at once.
//   - ResetStalledJobs is idempotent and safe to call exactly once at startup.
type Store interface {
	// Enqueue inserts a new pending job and returns its id.
	Enqueue(ctx context.Context, job model.Job) (int64, error)

	// PickNext atomically claims and returns the highest-priority, oldest
	// pending job, or nil if none is pending. Exactly one call across any
	// number of concurrent callers receives a given job.
	PickNext(ctx context.Context) (*model.Job, error)

	// Complete archives job as succeeded and removes it from the active table.
	Complete(ctx context.Context, jobID int64) error

	// Fail records lastErr against job. If retry_count < max_retries, the job
	// returns to pending with retry_count incremented and started_at cleared.
	// Otherwise it's archived as failed.
	Fail(ctx context.Context, jobID int64, lastErr string) error

	// Abandon archives job as abandoned immediately, bypassing retry
	// bookkeeping. Used for non-retryable terminal failures such as
	// JOB_NO_HANDLER, where retrying would never succeed.
	Abandon(ctx context.Context, jobID int64, lastErr string) error

	// ResetStalledJobs transitions every row left in `processing` back to
	// `pending`, clearing started_at. Called once at process start. Returns
	// the number of rows reset.
	ResetStalledJobs(ctx context.Context) (int, error)

	// CleanupHistory removes terminal records older than their class's cutoff.
	CleanupHistory(ctx context.Context, spec HistoryCleanupSpec) (int, error)

	// Stats returns queue depth and staleness metrics.
	Stats(ctx context.Context) (Stats, error)

	// List returns active (non-history) jobs matching filter.
	List(ctx context.Context, filter ListFilter) ([]model.Job, error)

	// Get returns a single active job by id.
	Get(ctx context.Context, jobID int64) (*model.Job, error)
}

// now is overridable in tests that need deterministic timestamps.
var now = time.Now
