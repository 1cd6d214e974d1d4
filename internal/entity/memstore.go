package entity

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/model"
)

// MemStore is an in-memory Store, for tests.
type MemStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]model.Entity
	byPath map[string]int64 // "libraryID/path" -> id
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		byID:   make(map[int64]model.Entity),
		byPath: make(map[string]int64),
	}
}

func pathKey(libraryID int64, path string) string {
	return strconv.FormatInt(libraryID, 10) + "\x1f" + path
}

func (m *MemStore) UpsertByPath(ctx context.Context, e model.Entity) (model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pathKey(e.LibraryID, e.Path)
	if id, ok := m.byPath[key]; ok {
		return m.byID[id], nil
	}
	m.nextID++
	e.ID = m.nextID
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	e.CreatedAt = time.Now().UTC()
	e.UpdatedAt = e.CreatedAt
	m.byID[e.ID] = e
	m.byPath[key] = e.ID
	return e, nil
}

func (m *MemStore) Get(ctx context.Context, id int64) (model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return model.Entity{}, apperr.Newf(apperr.NotFound, "entity %d not found", id)
	}
	return e, nil
}

func (m *MemStore) ListByLibrary(ctx context.Context, libraryID int64) ([]model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Entity
	for _, e := range m.byID {
		if e.LibraryID == libraryID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *MemStore) ListEnrichmentCandidates(ctx context.Context, olderThan time.Time, limit int) ([]model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Entity
	for _, e := range m.byID {
		if !e.Monitored || e.EnrichmentPriority <= 0 {
			continue
		}
		if e.LastScrapedAt != nil && !e.LastScrapedAt.Before(olderThan) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnrichmentPriority != out[j].EnrichmentPriority {
			return out[i].EnrichmentPriority > out[j].EnrichmentPriority
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) ApplyFields(ctx context.Context, id int64, changed map[string]any, state model.EntityState) (model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return model.Entity{}, apperr.Newf(apperr.NotFound, "entity %d not found", id)
	}
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	for k, v := range changed {
		e.Fields[k] = v
	}
	e.State = state
	now := time.Now().UTC()
	e.LastScrapedAt = &now
	e.Version++
	e.UpdatedAt = now
	m.byID[id] = e
	return e, nil
}

func (m *MemStore) SetState(ctx context.Context, id int64, state model.EntityState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return apperr.Newf(apperr.NotFound, "entity %d not found", id)
	}
	e.State = state
	e.UpdatedAt = time.Now().UTC()
	m.byID[id] = e
	return nil
}

func (m *MemStore) SetExternalIDs(ctx context.Context, id int64, ids model.ExternalIDs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return apperr.Newf(apperr.NotFound, "entity %d not found", id)
	}
	if ids.IMDB != "" {
		e.ExternalIDs.IMDB = ids.IMDB
	}
	if ids.TMDB != "" {
		e.ExternalIDs.TMDB = ids.TMDB
	}
	if ids.TVDB != "" {
		e.ExternalIDs.TVDB = ids.TVDB
	}
	e.UpdatedAt = time.Now().UTC()
	m.byID[id] = e
	return nil
}
