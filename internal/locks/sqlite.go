package locks

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/model"
)

type lockRow struct {
	EntityID int64     `db:"entity_id"`
	Field    string    `db:"field"`
	LockedAt time.Time `db:"locked_at"`
}

func (r lockRow) toModel() model.FieldLock {
	return model.FieldLock{EntityID: r.EntityID, Field: r.Field, LockedAt: r.LockedAt}
}

// SQLiteStore is the default, durable Store backend for field locks.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore wraps an already-opened database (see internal/storage.Open).
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Lock(ctx context.Context, entityID int64, field string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO field_locks (entity_id, field) VALUES (?, ?)
		ON CONFLICT(entity_id, field) DO NOTHING
	`, entityID, field)
	if err != nil {
		return apperr.New(apperr.Storage, err)
	}
	return nil
}

func (s *SQLiteStore) Unlock(ctx context.Context, entityID int64, field string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM field_locks WHERE entity_id = ? AND field = ?`, entityID, field)
	if err != nil {
		return apperr.New(apperr.Storage, err)
	}
	return nil
}

func (s *SQLiteStore) IsLocked(ctx context.Context, entityID int64, field string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM field_locks WHERE entity_id = ? AND field = ?`, entityID, field)
	if err != nil {
		return false, apperr.New(apperr.Storage, err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) ListForEntity(ctx context.Context, entityID int64) ([]model.FieldLock, error) {
	var rows []lockRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT entity_id, field, locked_at FROM field_locks WHERE entity_id = ? ORDER BY field ASC`, entityID)
	if err != nil {
		return nil, apperr.New(apperr.Storage, err)
	}
	locks := make([]model.FieldLock, 0, len(rows))
	for _, r := range rows {
		locks = append(locks, r.toModel())
	}
	return locks, nil
}
