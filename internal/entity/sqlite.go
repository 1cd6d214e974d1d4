package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/model"
)

// SQLiteStore is the default, durable Store backend.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore wraps an already-opened database (see internal/storage.Open).
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type entityRow struct {
	ID                 int64         `db:"id"`
	LibraryID          int64         `db:"library_id"`
	Kind               string        `db:"kind"`
	ParentID           sql.NullInt64 `db:"parent_id"`
	Path               string        `db:"path"`
	Title              string        `db:"title"`
	Year               int           `db:"year"`
	IMDBID             string        `db:"imdb_id"`
	TMDBID             string        `db:"tmdb_id"`
	TVDBID             string        `db:"tvdb_id"`
	State              string        `db:"state"`
	LastScrapedAt      sql.NullTime  `db:"last_scraped_at"`
	EnrichmentPriority int           `db:"enrichment_priority"`
	Monitored          bool          `db:"monitored"`
	FieldsJSON         string        `db:"fields_json"`
	Version            int64         `db:"version"`
	CreatedAt          time.Time     `db:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at"`
}

func (r entityRow) toModel() model.Entity {
	e := model.Entity{
		ID:        r.ID,
		LibraryID: r.LibraryID,
		Kind:      model.EntityKind(r.Kind),
		Path:      r.Path,
		Title:     r.Title,
		Year:      r.Year,
		ExternalIDs: model.ExternalIDs{
			IMDB: r.IMDBID,
			TMDB: r.TMDBID,
			TVDB: r.TVDBID,
		},
		State:              model.EntityState(r.State),
		EnrichmentPriority: r.EnrichmentPriority,
		Monitored:          r.Monitored,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.ParentID.Valid {
		id := r.ParentID.Int64
		e.ParentID = &id
	}
	if r.LastScrapedAt.Valid {
		t := r.LastScrapedAt.Time
		e.LastScrapedAt = &t
	}
	var fields map[string]any
	_ = json.Unmarshal([]byte(r.FieldsJSON), &fields)
	e.Fields = fields
	return e
}

func (s *SQLiteStore) UpsertByPath(ctx context.Context, e model.Entity) (model.Entity, error) {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return model.Entity{}, apperr.New(apperr.Validation, err)
	}
	var parentID any
	if e.ParentID != nil {
		parentID = *e.ParentID
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (library_id, kind, parent_id, path, title, year, enrichment_priority, monitored, fields_json, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(library_id, path) DO NOTHING
	`, e.LibraryID, string(e.Kind), parentID, e.Path, e.Title, e.Year, e.EnrichmentPriority, e.Monitored, string(fields), string(e.State))
	if err != nil {
		return model.Entity{}, apperr.New(apperr.Storage, err)
	}

	var row entityRow
	err = s.db.GetContext(ctx, &row, `SELECT * FROM entities WHERE library_id = ? AND path = ?`, e.LibraryID, e.Path)
	if err != nil {
		return model.Entity{}, apperr.New(apperr.Storage, err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (model.Entity, error) {
	var row entityRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM entities WHERE id = ?`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Entity{}, apperr.Newf(apperr.NotFound, "entity %d not found", id)
		}
		return model.Entity{}, apperr.New(apperr.Storage, err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) ListByLibrary(ctx context.Context, libraryID int64) ([]model.Entity, error) {
	var rows []entityRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM entities WHERE library_id = ? ORDER BY path`, libraryID)
	if err != nil {
		return nil, apperr.New(apperr.Storage, err)
	}
	out := make([]model.Entity, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *SQLiteStore) ListEnrichmentCandidates(ctx context.Context, olderThan time.Time, limit int) ([]model.Entity, error) {
	var rows []entityRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM entities
		WHERE monitored = 1 AND enrichment_priority > 0
		  AND (last_scraped_at IS NULL OR last_scraped_at < ?)
		ORDER BY enrichment_priority DESC, id ASC
		LIMIT ?
	`, olderThan, limit)
	if err != nil {
		return nil, apperr.New(apperr.Storage, err)
	}
	out := make([]model.Entity, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// ApplyFields merges changed into the stored fields_json and bumps version
// using an optimistic read-modify-write: the UPDATE only applies while the
// row still has the version that was read. On a conflict the merge is redone
// once against the fresh row; a second conflict returns a STORAGE error.
func (s *SQLiteStore) ApplyFields(ctx context.Context, id int64, changed map[string]any, state model.EntityState) (model.Entity, error) {
	return s.applyFields(ctx, id, changed, state, true)
}

func (s *SQLiteStore) applyFields(ctx context.Context, id int64, changed map[string]any, state model.EntityState, retryOnConflict bool) (model.Entity, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return model.Entity{}, err
	}
	if current.Fields == nil {
		current.Fields = map[string]any{}
	}
	for k, v := range changed {
		current.Fields[k] = v
	}
	fieldsJSON, err := json.Marshal(current.Fields)
	if err != nil {
		return model.Entity{}, apperr.New(apperr.Validation, err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE entities
		SET fields_json = ?, state = ?, last_scraped_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, string(fieldsJSON), string(state), now, now, id, current.Version)
	if err != nil {
		return model.Entity{}, apperr.New(apperr.Storage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Entity{}, apperr.New(apperr.Storage, err)
	}
	if n == 0 {
		if retryOnConflict {
			return s.applyFields(ctx, id, changed, state, false)
		}
		return model.Entity{}, apperr.Newf(apperr.Storage, "entity %d: concurrent update conflict", id)
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) SetState(ctx context.Context, id int64, state model.EntityState) error {
	_, err := s.db.ExecContext(ctx, `UPDATE entities SET state = ?, updated_at = ? WHERE id = ?`, string(state), time.Now().UTC(), id)
	if err != nil {
		return apperr.New(apperr.Storage, err)
	}
	return nil
}

// SetExternalIDs fills in cross-catalog identifiers resolved by a provider.
// Empty strings leave the existing column value untouched so one provider's
// partial answer never clobbers another's.
func (s *SQLiteStore) SetExternalIDs(ctx context.Context, id int64, ids model.ExternalIDs) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE entities
		SET imdb_id = CASE WHEN ? != '' THEN ? ELSE imdb_id END,
		    tmdb_id = CASE WHEN ? != '' THEN ? ELSE tmdb_id END,
		    tvdb_id = CASE WHEN ? != '' THEN ? ELSE tvdb_id END,
		    updated_at = ?
		WHERE id = ?
	`, ids.IMDB, ids.IMDB, ids.TMDB, ids.TMDB, ids.TVDB, ids.TVDB, time.Now().UTC(), id)
	if err != nil {
		return apperr.New(apperr.Storage, err)
	}
	return nil
}
