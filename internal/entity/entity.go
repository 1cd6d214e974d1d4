// Package entity persists the single entities table shared by movies,
// series, seasons, and episodes (model.EntityKind discriminates). It backs
// the scan pipeline's upsert-by-path operation and the field-merge step the
// orchestrator's results flow through.
package entity

import (
	"context"
	"time"

	"github.com/medialibrarian/curator/internal/model"
)

// Store is the persistence boundary for entities. SQLiteStore is the
// default backend; MemStore backs unit tests that don't need a database.
type Store interface {
	// UpsertByPath inserts a new entity or returns the existing one for
	// (libraryID, path) unchanged. Path is the natural key within a library;
	// a rescan of an already-known file must not create a duplicate row or
	// disturb fields a provider has already written.
	UpsertByPath(ctx context.Context, e model.Entity) (model.Entity, error)

	// Get returns the entity by id.
	Get(ctx context.Context, id int64) (model.Entity, error)

	// ListByLibrary returns every entity in a library, ordered by path.
	ListByLibrary(ctx context.Context, libraryID int64) ([]model.Entity, error)

	// ListEnrichmentCandidates returns entities eligible for a bulk-enrich
	// cycle: enrichment_priority > 0, monitored, and either never scraped or
	// scraped before olderThan. Ordered priority desc, id asc; capped at limit.
	ListEnrichmentCandidates(ctx context.Context, olderThan time.Time, limit int) ([]model.Entity, error)

	// ApplyFields merges changed into the entity's Fields map, sets State and
	// LastScrapedAt, and bumps Version; with an empty changed map only State,
	// LastScrapedAt and Version change. Concurrent ApplyFields calls for the
	// same entity do not lose each other's fields: SQLiteStore conditions its
	// UPDATE on the version it read and retries once on a conflict, and
	// MemStore serializes them under its mutex.
	ApplyFields(ctx context.Context, id int64, changed map[string]any, state model.EntityState) (model.Entity, error)

	// SetState updates only the lifecycle state.
	SetState(ctx context.Context, id int64, state model.EntityState) error

	// SetExternalIDs fills in non-empty cross-catalog identifiers resolved
	// by a provider. Empty fields in ids leave existing values untouched.
	SetExternalIDs(ctx context.Context, id int64, ids model.ExternalIDs) error
}
