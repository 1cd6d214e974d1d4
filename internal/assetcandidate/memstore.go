package assetcandidate

import (
	"context"
	"sync"

	"github.com/medialibrarian/curator/internal/model"
)

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu   sync.Mutex
	byID map[int64][]model.AssetCandidate
}

func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[int64][]model.AssetCandidate)}
}

func (m *MemStore) Replace(ctx context.Context, entityID int64, candidates []model.AssetCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]model.AssetCandidate, len(candidates))
	copy(cp, candidates)
	m.byID[entityID] = cp
	return nil
}

func (m *MemStore) TopByType(ctx context.Context, entityID int64) (map[model.AssetType]model.AssetCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	best := make(map[model.AssetType]model.AssetCandidate)
	for _, c := range m.byID[entityID] {
		cur, ok := best[c.AssetType]
		if !ok || c.Score > cur.Score {
			best[c.AssetType] = c
		}
	}
	return best, nil
}

func (m *MemStore) DeleteForEntity(ctx context.Context, entityID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, entityID)
	return nil
}
