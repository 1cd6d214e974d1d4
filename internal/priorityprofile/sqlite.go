package priorityprofile

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/medialibrarian/curator/internal/apperr"
)

// activeProfileKey is the app_settings row holding the active profile name.
const activeProfileKey = "active_priority_profile"

// SQLiteStore persists the active profile name in app_settings, alongside
// the rest of the frozen-at-bootstrap operator-visible settings.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore wraps an already-opened database (see internal/storage.Open).
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) GetActiveName(ctx context.Context) (string, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, `SELECT value_json FROM app_settings WHERE key = ?`, activeProfileKey)
	if err != nil {
		if err == sql.ErrNoRows {
			return "default", nil
		}
		return "", apperr.New(apperr.Storage, err)
	}
	var name string
	if err := json.Unmarshal([]byte(raw), &name); err != nil {
		return "", apperr.New(apperr.Storage, err)
	}
	return name, nil
}

func (s *SQLiteStore) SetActiveName(ctx context.Context, name string) error {
	value, err := json.Marshal(name)
	if err != nil {
		return apperr.New(apperr.Validation, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value_json) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json
	`, activeProfileKey, string(value))
	if err != nil {
		return apperr.New(apperr.Storage, err)
	}
	return nil
}
