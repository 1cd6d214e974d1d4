package scan

import (
	"context"
	"sync"
	"time"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/model"
)

// MemStore is an in-memory JobStore, for tests.
type MemStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*model.ScanJob
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[int64]*model.ScanJob)}
}

func (m *MemStore) Create(ctx context.Context, libraryID int64) (model.ScanJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	j := &model.ScanJob{ID: m.nextID, LibraryID: libraryID, Status: model.ScanRunning, CreatedAt: time.Now().UTC()}
	m.byID[j.ID] = j
	return *j, nil
}

func (m *MemStore) Get(ctx context.Context, id int64) (model.ScanJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok {
		return model.ScanJob{}, apperr.Newf(apperr.NotFound, "scan job %d not found", id)
	}
	return *j, nil
}

func (m *MemStore) SetTotal(ctx context.Context, id int64, total int) error {
	return m.mutate(id, func(j *model.ScanJob) { j.TotalDirectories = total })
}

func (m *MemStore) IncrementDiscovered(ctx context.Context, id int64) error {
	return m.mutate(id, func(j *model.ScanJob) { j.Discovered++ })
}

func (m *MemStore) IncrementUpdated(ctx context.Context, id int64) error {
	return m.mutate(id, func(j *model.ScanJob) { j.Updated++ })
}

func (m *MemStore) IncrementQueued(ctx context.Context, id int64) error {
	return m.mutate(id, func(j *model.ScanJob) { j.Queued++ })
}

func (m *MemStore) IncrementErrored(ctx context.Context, id int64, lastErr string) error {
	return m.mutate(id, func(j *model.ScanJob) { j.Errored++; j.LastError = lastErr })
}

func (m *MemStore) IncrementSkipped(ctx context.Context, id int64) error {
	return m.mutate(id, func(j *model.ScanJob) { j.Skipped++ })
}

func (m *MemStore) RequestCancel(ctx context.Context, id int64) error {
	return m.mutate(id, func(j *model.ScanJob) { j.CancelRequested = true })
}

func (m *MemStore) IsCancelRequested(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok {
		return false, apperr.Newf(apperr.NotFound, "scan job %d not found", id)
	}
	return j.CancelRequested, nil
}

func (m *MemStore) Finish(ctx context.Context, id int64, status model.ScanStatus) error {
	return m.mutate(id, func(j *model.ScanJob) {
		j.Status = status
		now := time.Now().UTC()
		j.FinishedAt = &now
	})
}

func (m *MemStore) mutate(id int64, fn func(*model.ScanJob)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok {
		return apperr.Newf(apperr.NotFound, "scan job %d not found", id)
	}
	fn(j)
	return nil
}
