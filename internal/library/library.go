// Package library persists the libraries table: configured root directories
// ScanService walks, each holding entities of one model.MediaKind.
package library

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/model"
)

// Store persists libraries.
type Store interface {
	Create(ctx context.Context, l model.Library) (model.Library, error)
	Get(ctx context.Context, id int64) (model.Library, error)
	List(ctx context.Context) ([]model.Library, error)
}

// SQLiteStore is the default Store backend.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore wraps an already-opened database (see internal/storage.Open).
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type libraryRow struct {
	ID               int64     `db:"id"`
	Name             string    `db:"name"`
	RootPath         string    `db:"root_path"`
	Kind             string    `db:"kind"`
	AutoEnrich       bool      `db:"auto_enrich"`
	PublishingPolicy string    `db:"publishing_policy"`
	CreatedAt        time.Time `db:"created_at"`
}

func (r libraryRow) toModel() model.Library {
	return model.Library{
		ID:               r.ID,
		Name:             r.Name,
		RootPath:         r.RootPath,
		Kind:             model.MediaKind(r.Kind),
		AutoEnrich:       r.AutoEnrich,
		PublishingPolicy: r.PublishingPolicy,
		CreatedAt:        r.CreatedAt,
	}
}

func (s *SQLiteStore) Create(ctx context.Context, l model.Library) (model.Library, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO libraries (name, root_path, kind, auto_enrich, publishing_policy)
		VALUES (?, ?, ?, ?, ?)
	`, l.Name, l.RootPath, string(l.Kind), l.AutoEnrich, l.PublishingPolicy)
	if err != nil {
		return model.Library{}, apperr.New(apperr.Storage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Library{}, apperr.New(apperr.Storage, err)
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (model.Library, error) {
	var row libraryRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM libraries WHERE id = ?`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Library{}, apperr.Newf(apperr.NotFound, "library %d not found", id)
		}
		return model.Library{}, apperr.New(apperr.Storage, err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]model.Library, error) {
	var rows []libraryRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM libraries ORDER BY name`); err != nil {
		return nil, apperr.New(apperr.Storage, err)
	}
	out := make([]model.Library, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}
