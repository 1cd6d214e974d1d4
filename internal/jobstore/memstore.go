package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/model"
)

// MemStore is an in-memory Store, satisfying spec.md §4.9's "alternative
// backend" note. It takes no snapshots, so it is useful for tests and for
// single-process deployments that accept losing queue state across restarts.
// ResetStalledJobs returns processing jobs to pending, as the sqlite backend
// does.
type MemStore struct {
	mu      sync.Mutex
	nextID  int64
	active  map[int64]*model.Job
	history []model.JobHistory
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{active: make(map[int64]*model.Job)}
}

func (m *MemStore) Enqueue(ctx context.Context, job model.Job) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	job.ID = m.nextID
	job.Status = model.JobPending
	job.CreatedAt = now()
	if job.MaxRetries == 0 {
		job.MaxRetries = 3
	}
	copyJob := job
	m.active[job.ID] = &copyJob
	return job.ID, nil
}

// PickNext is linearizable because the whole operation happens under m.mu.
func (m *MemStore) PickNext(ctx context.Context) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*model.Job
	for _, j := range m.active {
		if j.Status == model.JobPending {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	chosen := candidates[0]
	chosen.Status = model.JobProcessing
	started := now()
	chosen.StartedAt = &started

	out := *chosen
	return &out, nil
}

func (m *MemStore) Complete(ctx context.Context, jobID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.active[jobID]
	if !ok {
		return apperr.Newf(apperr.NotFound, "memstore: job %d not found", jobID)
	}
	m.archiveLocked(job, model.OutcomeSucceeded, "")
	return nil
}

func (m *MemStore) Fail(ctx context.Context, jobID int64, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.active[jobID]
	if !ok {
		return apperr.Newf(apperr.NotFound, "memstore: job %d not found", jobID)
	}
	if job.RetryCount < job.MaxRetries {
		job.RetryCount++
		job.LastError = lastErr
		job.Status = model.JobPending
		job.StartedAt = nil
		return nil
	}
	m.archiveLocked(job, model.OutcomeFailed, lastErr)
	return nil
}

func (m *MemStore) Abandon(ctx context.Context, jobID int64, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.active[jobID]
	if !ok {
		return apperr.Newf(apperr.NotFound, "memstore: job %d not found", jobID)
	}
	m.archiveLocked(job, model.OutcomeAbandoned, lastErr)
	return nil
}

func (m *MemStore) archiveLocked(job *model.Job, outcome model.HistoryOutcome, lastErr string) {
	retention := model.RetentionCompleted
	if outcome != model.OutcomeSucceeded {
		retention = model.RetentionFailed
	}
	m.history = append(m.history, model.JobHistory{
		ID:         int64(len(m.history) + 1),
		JobID:      job.ID,
		Type:       job.Type,
		Priority:   job.Priority,
		Payload:    job.Payload,
		Outcome:    outcome,
		LastError:  lastErr,
		RetryCount: job.RetryCount,
		CreatedAt:  job.CreatedAt,
		FinishedAt: now(),
		Retention:  retention,
	})
	delete(m.active, job.ID)
}

// ResetStalledJobs transitions in-memory `processing` rows back to `pending`.
// A real crash wipes MemStore entirely, so this exists mainly for parity
// with Store's contract when MemStore is embedded in a longer-lived
// supervisor process that restarts workers without restarting the store.
func (m *MemStore) ResetStalledJobs(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.active {
		if j.Status == model.JobProcessing {
			j.Status = model.JobPending
			j.StartedAt = nil
			n++
		}
	}
	return n, nil
}

func (m *MemStore) CleanupHistory(ctx context.Context, spec HistoryCleanupSpec) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	completedCutoff := now().AddDate(0, 0, -spec.CompletedDays)
	failedCutoff := now().AddDate(0, 0, -spec.FailedDays)

	kept := m.history[:0]
	removed := 0
	for _, h := range m.history {
		cutoff := completedCutoff
		if h.Retention == model.RetentionFailed {
			cutoff = failedCutoff
		}
		if h.FinishedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, h)
	}
	m.history = kept
	return removed, nil
}

func (m *MemStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats Stats
	var oldest time.Time
	for _, j := range m.active {
		switch j.Status {
		case model.JobPending:
			stats.Pending++
			if oldest.IsZero() || j.CreatedAt.Before(oldest) {
				oldest = j.CreatedAt
			}
		case model.JobProcessing:
			stats.Processing++
		}
	}
	stats.TotalActive = stats.Pending + stats.Processing
	if !oldest.IsZero() {
		stats.OldestPendingAgeSeconds = now().Sub(oldest).Seconds()
	}
	return stats, nil
}

func (m *MemStore) List(ctx context.Context, filter ListFilter) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Job
	for _, j := range m.active {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Type != "" && j.Type != filter.Type {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Priority != out[k].Priority {
			return out[i].Priority < out[k].Priority
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemStore) Get(ctx context.Context, jobID int64) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.active[jobID]
	if !ok {
		return nil, nil
	}
	out := *j
	return &out, nil
}
