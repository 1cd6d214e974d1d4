// Package locks implements the field-lock registry of spec.md §4.14:
// once a user edits a field directly, that (entity, field) pair is locked
// and FetchOrchestrator must never overwrite it again until explicitly
// unlocked. Forced-local fields (runtime, codecs, resolution, ...) are
// always treated as locked, independent of any persisted row.
package locks

import (
	"context"

	"github.com/medialibrarian/curator/internal/model"
)

// Store persists field locks. SQLiteStore is the default backend.
type Store interface {
	Lock(ctx context.Context, entityID int64, field string) error
	Unlock(ctx context.Context, entityID int64, field string) error
	IsLocked(ctx context.Context, entityID int64, field string) (bool, error)
	ListForEntity(ctx context.Context, entityID int64) ([]model.FieldLock, error)
}

// Registry answers lock checks, folding in the always-locked forced-local
// fields before consulting the persisted store.
type Registry struct {
	store Store
}

// New wraps store in a Registry.
func New(store Store) *Registry {
	return &Registry{store: store}
}

// IsLocked reports whether field may not be overwritten on entityID, either
// because it is forced-local or because a user explicitly locked it.
func (r *Registry) IsLocked(ctx context.Context, entityID int64, field string) (bool, error) {
	if model.ForcedLocalFields[field] {
		return true, nil
	}
	return r.store.IsLocked(ctx, entityID, field)
}

// Lock marks (entityID, field) as locked. Locking a forced-local field is a
// no-op: it was already implicitly locked.
func (r *Registry) Lock(ctx context.Context, entityID int64, field string) error {
	if model.ForcedLocalFields[field] {
		return nil
	}
	return r.store.Lock(ctx, entityID, field)
}

// Unlock removes an explicit lock. It cannot unlock a forced-local field;
// callers attempting to do so get a silent no-op, matching Lock's symmetry.
func (r *Registry) Unlock(ctx context.Context, entityID int64, field string) error {
	if model.ForcedLocalFields[field] {
		return nil
	}
	return r.store.Unlock(ctx, entityID, field)
}

// ListForEntity returns every explicitly locked field for entityID. Forced-
// local fields are never included since they are not persisted rows.
func (r *Registry) ListForEntity(ctx context.Context, entityID int64) ([]model.FieldLock, error) {
	return r.store.ListForEntity(ctx, entityID)
}

// FilterLocked removes locked fields from a field->value map, used by
// FetchOrchestrator immediately before applying a merge.
func (r *Registry) FilterLocked(ctx context.Context, entityID int64, fields map[string]any) (map[string]any, []string, error) {
	out := make(map[string]any, len(fields))
	var skipped []string
	for field, value := range fields {
		locked, err := r.IsLocked(ctx, entityID, field)
		if err != nil {
			return nil, nil, err
		}
		if locked {
			skipped = append(skipped, field)
			continue
		}
		out[field] = value
	}
	return out, skipped, nil
}
