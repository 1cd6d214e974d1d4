// Package assetcandidate persists the asset_candidates rows FetchOrchestrator
// produces, so a later select-assets job can pick winners without re-running
// discovery. Grounded on the teacher's row-replace pattern in
// internal/plex/lineup.go: every fetch-provider-assets run for an entity
// replaces that entity's candidate rows wholesale rather than diffing them.
package assetcandidate

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/model"
)

// Store persists and retrieves scored asset candidates awaiting selection.
type Store interface {
	// Replace deletes every candidate row for entityID and inserts candidates
	// in their given order. Called once per fetch-provider-assets run.
	Replace(ctx context.Context, entityID int64, candidates []model.AssetCandidate) error

	// TopByType returns, for each asset type present among entityID's stored
	// candidates, the single highest-scored row (ties broken by insertion
	// order, which Replace preserves as score-descending since the
	// orchestrator already sorts before handing candidates over).
	TopByType(ctx context.Context, entityID int64) (map[model.AssetType]model.AssetCandidate, error)

	// DeleteForEntity clears every stored candidate for entityID, called once
	// selection has consumed them.
	DeleteForEntity(ctx context.Context, entityID int64) error
}

// SQLiteStore is the default backend, against the asset_candidates table.
type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Replace(ctx context.Context, entityID int64, candidates []model.AssetCandidate) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.New(apperr.Storage, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM asset_candidates WHERE entity_id = ?`, entityID); err != nil {
		return apperr.New(apperr.Storage, err)
	}
	for _, c := range candidates {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO asset_candidates
				(entity_id, asset_type, url, width, height, language, community_score, vote_count, provider_name, score)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, entityID, c.AssetType, c.URL, c.Width, c.Height, c.Language, c.CommunityScore, c.VoteCount, c.ProviderName, c.Score)
		if err != nil {
			return apperr.New(apperr.Storage, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.New(apperr.Storage, err)
	}
	return nil
}

type candidateRow struct {
	ID             int64   `db:"id"`
	EntityID       int64   `db:"entity_id"`
	AssetType      string  `db:"asset_type"`
	URL            string  `db:"url"`
	Width          int     `db:"width"`
	Height         int     `db:"height"`
	Language       string  `db:"language"`
	CommunityScore float64 `db:"community_score"`
	VoteCount      int     `db:"vote_count"`
	ProviderName   string  `db:"provider_name"`
	Score          float64 `db:"score"`
}

func (r candidateRow) toModel() model.AssetCandidate {
	return model.AssetCandidate{
		ID:             r.ID,
		EntityID:       r.EntityID,
		AssetType:      model.AssetType(r.AssetType),
		URL:            r.URL,
		Width:          r.Width,
		Height:         r.Height,
		Language:       r.Language,
		CommunityScore: r.CommunityScore,
		VoteCount:      r.VoteCount,
		ProviderName:   r.ProviderName,
		Score:          r.Score,
	}
}

func (s *SQLiteStore) TopByType(ctx context.Context, entityID int64) (map[model.AssetType]model.AssetCandidate, error) {
	var rows []candidateRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, entity_id, asset_type, url, width, height, language, community_score, vote_count, provider_name, score
		FROM asset_candidates WHERE entity_id = ? ORDER BY asset_type, score DESC, id ASC
	`, entityID)
	if err != nil {
		return nil, apperr.New(apperr.Storage, err)
	}
	best := make(map[model.AssetType]model.AssetCandidate)
	for _, r := range rows {
		c := r.toModel()
		if _, seen := best[c.AssetType]; !seen {
			best[c.AssetType] = c
		}
	}
	return best, nil
}

func (s *SQLiteStore) DeleteForEntity(ctx context.Context, entityID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM asset_candidates WHERE entity_id = ?`, entityID); err != nil {
		return apperr.New(apperr.Storage, err)
	}
	return nil
}
