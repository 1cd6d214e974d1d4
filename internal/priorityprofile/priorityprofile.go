// Package priorityprofile loads and persists the PriorityProfile FetchOrchestrator
// consults to rank providers per field and asset type (spec.md §4.8 step 2).
// Built-in defaults come from an embedded YAML document; an operator-supplied
// YAML file overrides them at startup, and the active profile's name is then
// persisted in the app_settings table for FetchOrchestrator to read back.
package priorityprofile

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/medialibrarian/curator/internal/model"
)

// yamlProfile mirrors the on-disk declarative shape; model.PriorityProfile
// uses map[AssetType][]string for asset ordering, which isn't a YAML-native
// key type, so decoding goes through this intermediate with string keys.
type yamlProfile struct {
	Name           string              `yaml:"name"`
	FieldOrder     map[string][]string `yaml:"fieldOrder"`
	AssetTypeOrder map[string][]string `yaml:"assetTypeOrder"`
}

func (y yamlProfile) toModel() model.PriorityProfile {
	assetOrder := make(map[model.AssetType][]string, len(y.AssetTypeOrder))
	for k, v := range y.AssetTypeOrder {
		assetOrder[model.AssetType(k)] = v
	}
	return model.PriorityProfile{
		Name:           y.Name,
		FieldOrder:     y.FieldOrder,
		AssetTypeOrder: assetOrder,
	}
}

// defaultYAML ships a sane provider priority ordering so the system is
// usable before an operator supplies their own. tmdb leads on general movie
// metadata; local always ranks last since it can never be out-prioritized by
// design for forced-local fields, but may still supply an NFO-authored plot.
const defaultYAML = `
name: default
fieldOrder:
  title: [tmdb, local]
  year: [tmdb, local]
  plot: [tmdb, local]
  tagline: [tmdb]
  rating: [tmdb]
  genres: [tmdb]
assetTypeOrder:
  poster: [tmdb]
  fanart: [tmdb]
  banner: [tmdb]
  landscape: [tmdb]
`

// Store persists the active profile's name.
type Store interface {
	GetActiveName(ctx context.Context) (string, error)
	SetActiveName(ctx context.Context, name string) error
}

// Manager resolves the active PriorityProfile for FetchOrchestrator.
type Manager struct {
	store    Store
	profiles map[string]model.PriorityProfile
}

// NewManager loads the built-in default profile, then overlays any profiles
// declared in overridePath (if non-empty) on top of it.
func NewManager(store Store, overridePath string) (*Manager, error) {
	m := &Manager{store: store, profiles: make(map[string]model.PriorityProfile)}

	var def yamlProfile
	if err := yaml.Unmarshal([]byte(defaultYAML), &def); err != nil {
		return nil, err
	}
	m.profiles[def.Name] = def.toModel()

	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, err
		}
		var profiles []yamlProfile
		if err := yaml.Unmarshal(data, &profiles); err != nil {
			return nil, err
		}
		for _, p := range profiles {
			m.profiles[p.Name] = p.toModel()
		}
	}
	return m, nil
}

// Active returns the currently-active PriorityProfile, falling back to
// "default" if the store has no active name set or names an unknown profile.
func (m *Manager) Active(ctx context.Context) (model.PriorityProfile, error) {
	name, err := m.store.GetActiveName(ctx)
	if err != nil {
		return model.PriorityProfile{}, err
	}
	if profile, ok := m.profiles[name]; ok {
		return profile, nil
	}
	return m.profiles["default"], nil
}

// SetActive persists name as the active profile. It is not required that
// name already be loaded: an operator may set it ahead of supplying the
// override file on a subsequent restart.
func (m *Manager) SetActive(ctx context.Context, name string) error {
	return m.store.SetActiveName(ctx, name)
}

// Register adds or replaces a named profile in memory without persisting it
// as active, used by tests and by dynamic profile editing.
func (m *Manager) Register(profile model.PriorityProfile) {
	m.profiles[profile.Name] = profile
}
