package providerregistry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/model"
)

// MemConfigStore is an in-memory Store, for tests.
type MemConfigStore struct {
	mu      sync.Mutex
	configs map[string]model.ProviderConfig
}

// NewMemConfigStore returns an empty MemConfigStore.
func NewMemConfigStore() *MemConfigStore {
	return &MemConfigStore{configs: make(map[string]model.ProviderConfig)}
}

func (m *MemConfigStore) Upsert(ctx context.Context, cfg model.ProviderConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.Name] = cfg
	return nil
}

func (m *MemConfigStore) Get(ctx context.Context, name string) (*model.ProviderConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[name]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (m *MemConfigStore) List(ctx context.Context) ([]model.ProviderConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ProviderConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemConfigStore) RecordTestResult(ctx context.Context, name string, status model.ProviderTestStatus, testErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[name]
	if !ok {
		return apperr.Newf(apperr.NotFound, "providerregistry: unknown provider %q", name)
	}
	cfg.LastTestStatus = status
	cfg.LastTestError = testErr
	t := time.Now().UTC()
	cfg.LastTestAt = &t
	m.configs[name] = cfg
	return nil
}
