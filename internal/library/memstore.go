package library

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/model"
)

// MemStore is an in-memory Store, for tests.
type MemStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]model.Library
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[int64]model.Library)}
}

func (m *MemStore) Create(ctx context.Context, l model.Library) (model.Library, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	l.ID = m.nextID
	l.CreatedAt = time.Now().UTC()
	m.byID[l.ID] = l
	return l, nil
}

func (m *MemStore) Get(ctx context.Context, id int64) (model.Library, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byID[id]
	if !ok {
		return model.Library{}, apperr.Newf(apperr.NotFound, "library %d not found", id)
	}
	return l, nil
}

func (m *MemStore) List(ctx context.Context) ([]model.Library, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Library, 0, len(m.byID))
	for _, l := range m.byID {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
