package discovery

import (
	"context"
	"sync"

	"github.com/medialibrarian/curator/internal/model"
)

// Recorded is one call captured by MemStore, for assertions in tests.
type Recorded struct {
	EntityID    int64
	AssetType   model.AssetType
	LibraryPath string
	CachePath   string
	Language    string
	Quality     string
	Forced      bool
	SDH         bool
}

// MemStore is an in-memory Store, for tests.
type MemStore struct {
	mu    sync.Mutex
	Items []Recorded
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) Record(ctx context.Context, entityID int64, assetType model.AssetType, libraryPath, cachePath, language, quality string, forced, sdh bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Items = append(m.Items, Recorded{entityID, assetType, libraryPath, cachePath, language, quality, forced, sdh})
	return nil
}
