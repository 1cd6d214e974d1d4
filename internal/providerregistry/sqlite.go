package providerregistry

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/model"
)

// SQLiteConfigStore is the default, durable Store backend for ProviderConfig.
type SQLiteConfigStore struct {
	db *sqlx.DB
}

// NewSQLiteConfigStore wraps an already-opened database (see internal/storage.Open).
func NewSQLiteConfigStore(db *sqlx.DB) *SQLiteConfigStore {
	return &SQLiteConfigStore{db: db}
}

type configRow struct {
	Name              string         `db:"name"`
	Enabled           bool           `db:"enabled"`
	APIKey            sql.NullString `db:"api_key"`
	EnabledAssetTypes string         `db:"enabled_asset_types"`
	LastTestStatus    string         `db:"last_test_status"`
	LastTestAt        sql.NullTime   `db:"last_test_at"`
	LastTestError     string         `db:"last_test_error"`
}

func (r configRow) toModel() model.ProviderConfig {
	cfg := model.ProviderConfig{
		Name:           r.Name,
		Enabled:        r.Enabled,
		LastTestStatus: model.ProviderTestStatus(r.LastTestStatus),
		LastTestError:  r.LastTestError,
	}
	if r.APIKey.Valid {
		key := r.APIKey.String
		cfg.APIKey = &key
	}
	if r.LastTestAt.Valid {
		t := r.LastTestAt.Time
		cfg.LastTestAt = &t
	}
	var assetTypes []model.AssetType
	_ = json.Unmarshal([]byte(r.EnabledAssetTypes), &assetTypes)
	cfg.EnabledAssetTypes = assetTypes
	return cfg
}

// Upsert inserts or replaces the configuration row for cfg.Name.
func (s *SQLiteConfigStore) Upsert(ctx context.Context, cfg model.ProviderConfig) error {
	assetTypes, err := json.Marshal(cfg.EnabledAssetTypes)
	if err != nil {
		return apperr.New(apperr.Validation, err)
	}
	var apiKey any
	if cfg.APIKey != nil {
		apiKey = *cfg.APIKey
	}
	var lastTestAt any
	if cfg.LastTestAt != nil {
		lastTestAt = *cfg.LastTestAt
	}
	status := cfg.LastTestStatus
	if status == "" {
		status = model.TestNeverTested
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO provider_config (name, enabled, api_key, enabled_asset_types, last_test_status, last_test_at, last_test_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			enabled = excluded.enabled,
			api_key = excluded.api_key,
			enabled_asset_types = excluded.enabled_asset_types,
			last_test_status = excluded.last_test_status,
			last_test_at = excluded.last_test_at,
			last_test_error = excluded.last_test_error
	`, cfg.Name, cfg.Enabled, apiKey, string(assetTypes), string(status), lastTestAt, cfg.LastTestError)
	if err != nil {
		return apperr.New(apperr.Storage, err)
	}
	return nil
}

// Get returns the persisted configuration for name, or nil if absent.
func (s *SQLiteConfigStore) Get(ctx context.Context, name string) (*model.ProviderConfig, error) {
	var row configRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM provider_config WHERE name = ?`, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.New(apperr.Storage, err)
	}
	cfg := row.toModel()
	return &cfg, nil
}

// List returns every persisted provider configuration.
func (s *SQLiteConfigStore) List(ctx context.Context) ([]model.ProviderConfig, error) {
	var rows []configRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM provider_config ORDER BY name ASC`); err != nil {
		return nil, apperr.New(apperr.Storage, err)
	}
	cfgs := make([]model.ProviderConfig, 0, len(rows))
	for _, r := range rows {
		cfgs = append(cfgs, r.toModel())
	}
	return cfgs, nil
}

// RecordTestResult updates the last-test fields for name without touching
// enabled/api_key/enabled_asset_types.
func (s *SQLiteConfigStore) RecordTestResult(ctx context.Context, name string, status model.ProviderTestStatus, testErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE provider_config SET last_test_status = ?, last_test_at = ?, last_test_error = ? WHERE name = ?
	`, string(status), time.Now().UTC(), testErr, name)
	if err != nil {
		return apperr.New(apperr.Storage, err)
	}
	return nil
}
