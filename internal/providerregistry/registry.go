// Package providerregistry tracks every provider.Adapter known to the
// process: its self-reported capabilities, its persisted enable/apiKey/
// asset-type configuration, and the outcome of its last connection test.
// FetchOrchestrator consults it to resolve which adapters are eligible for
// a given entity and field; nothing else constructs a provider.Adapter
// directly.
package providerregistry

import (
	"context"
	"sync"
	"time"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/model"
	"github.com/medialibrarian/curator/internal/provider"
)

// Registry holds the in-memory set of registered adapters plus their
// persisted configuration, backed by the provider_config table.
type Registry struct {
	store Store

	mu       sync.RWMutex
	adapters map[string]provider.Adapter
	configs  map[string]model.ProviderConfig
}

// Store persists ProviderConfig. SQLiteConfigStore is the default backend.
type Store interface {
	Upsert(ctx context.Context, cfg model.ProviderConfig) error
	Get(ctx context.Context, name string) (*model.ProviderConfig, error)
	List(ctx context.Context) ([]model.ProviderConfig, error)
	RecordTestResult(ctx context.Context, name string, status model.ProviderTestStatus, testErr string) error
}

// New builds an empty Registry. Call LoadConfigs once at startup to
// populate persisted config, then Register each adapter the process knows
// how to construct.
func New(store Store) *Registry {
	return &Registry{
		store:    store,
		adapters: make(map[string]provider.Adapter),
		configs:  make(map[string]model.ProviderConfig),
	}
}

// LoadConfigs loads all persisted provider configuration from the store.
// Adapters registered after this call that have no persisted row default to
// enabled with no asset-type restriction.
func (r *Registry) LoadConfigs(ctx context.Context) error {
	cfgs, err := r.store.List(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cfg := range cfgs {
		r.configs[cfg.Name] = cfg
	}
	return nil
}

// Register adds adapter under its self-reported Capabilities().ID. If no
// persisted config exists yet for that id, one is created enabled by
// default and persisted immediately so it shows up in future List calls.
func (r *Registry) Register(ctx context.Context, adapter provider.Adapter) error {
	id := adapter.Capabilities().ID
	r.mu.Lock()
	r.adapters[id] = adapter
	_, hasConfig := r.configs[id]
	r.mu.Unlock()

	if hasConfig {
		return nil
	}
	cfg := model.ProviderConfig{
		Name:           id,
		Enabled:        true,
		LastTestStatus: model.TestNeverTested,
	}
	if err := r.store.Upsert(ctx, cfg); err != nil {
		return err
	}
	r.mu.Lock()
	r.configs[id] = cfg
	r.mu.Unlock()
	return nil
}

// Adapter returns the registered adapter by id, or nil if unknown.
func (r *Registry) Adapter(id string) provider.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[id]
}

// Config returns the persisted configuration for id, or the zero value and
// false if id is unknown.
func (r *Registry) Config(id string) (model.ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	return cfg, ok
}

// Enabled reports the adapters registered and marked enabled in their
// persisted config, in no particular order. Orchestration-order is the
// priority profile's concern, not the registry's.
func (r *Registry) Enabled() []provider.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []provider.Adapter
	for id, a := range r.adapters {
		if cfg, ok := r.configs[id]; ok && !cfg.Enabled {
			continue
		}
		out = append(out, a)
	}
	return out
}

// SetEnabled persists an enable/disable toggle for a registered provider.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	cfg, ok := r.configs[id]
	if !ok {
		cfg = model.ProviderConfig{Name: id, LastTestStatus: model.TestNeverTested}
	}
	cfg.Enabled = enabled
	r.configs[id] = cfg
	r.mu.Unlock()
	return r.store.Upsert(ctx, cfg)
}

// SetAPIKey persists a new API key for a registered provider.
func (r *Registry) SetAPIKey(ctx context.Context, id, apiKey string) error {
	r.mu.Lock()
	cfg, ok := r.configs[id]
	if !ok {
		cfg = model.ProviderConfig{Name: id, Enabled: true, LastTestStatus: model.TestNeverTested}
	}
	cfg.APIKey = &apiKey
	r.configs[id] = cfg
	r.mu.Unlock()
	return r.store.Upsert(ctx, cfg)
}

// TestConnection runs the adapter's TestConnection and records the outcome
// against its persisted config.
func (r *Registry) TestConnection(ctx context.Context, id string) (provider.ConnectionTestResult, error) {
	a := r.Adapter(id)
	if a == nil {
		return provider.ConnectionTestResult{}, apperr.Newf(apperr.NotFound, "providerregistry: unknown provider %q", id)
	}
	result := a.TestConnection(ctx)

	status := model.TestSuccess
	testErr := ""
	if !result.OK {
		status = model.TestError
		testErr = result.Message
	}
	if err := r.store.RecordTestResult(ctx, id, status, testErr); err != nil {
		return result, err
	}

	r.mu.Lock()
	cfg := r.configs[id]
	cfg.Name = id
	cfg.LastTestStatus = status
	cfg.LastTestError = testErr
	t := testTime()
	cfg.LastTestAt = &t
	r.configs[id] = cfg
	r.mu.Unlock()

	return result, nil
}

// CapabilitiesFor returns the capabilities of every registered adapter,
// for introspection endpoints.
func (r *Registry) CapabilitiesFor() []provider.Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.Capabilities, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Capabilities())
	}
	return out
}

var testTime = func() time.Time { return time.Now().UTC() }
