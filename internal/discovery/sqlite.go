package discovery

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/model"
)

// SQLiteStore records discovered_assets rows.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore wraps an already-opened database (see internal/storage.Open).
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Record(ctx context.Context, entityID int64, assetType model.AssetType, libraryPath, cachePath, language, quality string, forced, sdh bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discovered_assets (entity_id, asset_type, library_path, cache_path, language, quality, forced, sdh)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, library_path) DO UPDATE SET cache_path = excluded.cache_path
	`, entityID, string(assetType), libraryPath, cachePath, language, quality, forced, sdh)
	if err != nil {
		return apperr.New(apperr.Storage, err)
	}
	return nil
}
