// Package mediastreams persists the per-stream rows a mediaprobe.Result
// carries (video_streams, audio_streams) plus the subtitle sidecars
// discovery.Service finds on disk (subtitle_streams), giving a dashboard
// something finer-grained than the summarized forced-local fields on the
// entity itself. Grounded on the teacher's row-replace pattern in
// internal/plex/lineup.go, which deletes and re-inserts a table wholesale
// on every re-sync rather than diffing rows.
package mediastreams

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/discovery"
	"github.com/medialibrarian/curator/internal/mediaprobe"
	"github.com/medialibrarian/curator/internal/model"
)

// Store persists the stream rows backing one entity's technical metadata.
type Store struct {
	db *sqlx.DB
}

// New wraps an already-opened database.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// ReplaceProbeResult deletes any video/audio stream rows already recorded
// for entityID and inserts the rows from result. A probe always describes
// the complete stream layout of the file, so replace-wholesale is correct
// and simpler than reconciling row-by-row.
func (s *Store) ReplaceProbeResult(ctx context.Context, entityID int64, result mediaprobe.Result) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.New(apperr.Storage, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM video_streams WHERE entity_id = ?`, entityID); err != nil {
		return apperr.New(apperr.Storage, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM audio_streams WHERE entity_id = ?`, entityID); err != nil {
		return apperr.New(apperr.Storage, err)
	}
	for i, v := range result.VideoStreams {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO video_streams (entity_id, codec, width, height, frame_rate, bit_rate, profile, stream_index)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, entityID, v.Codec, v.Width, v.Height, v.FrameRate, v.BitRate, v.Profile, i); err != nil {
			return apperr.New(apperr.Storage, err)
		}
	}
	for i, a := range result.AudioStreams {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audio_streams (entity_id, codec, channels, bit_rate, language, stream_index)
			VALUES (?, ?, ?, ?, ?, ?)
		`, entityID, a.Codec, a.Channels, a.BitRate, a.Language, i); err != nil {
			return apperr.New(apperr.Storage, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.New(apperr.Storage, err)
	}
	return nil
}

// SubtitleRecorder wraps a discovery.Store, adding a subtitle_streams row
// alongside the usual discovered_assets row whenever the Finding being
// recorded is an AssetSubtitle. Everything else passes through unchanged.
// This lets ScanService wire discovery straight into the richer subtitle
// table without the discovery package itself knowing it exists.
type SubtitleRecorder struct {
	discovery.Store
	db *sqlx.DB
}

// WrapDiscoveryStore decorates next with subtitle_streams recording.
func WrapDiscoveryStore(next discovery.Store, db *sqlx.DB) *SubtitleRecorder {
	return &SubtitleRecorder{Store: next, db: db}
}

func (r *SubtitleRecorder) Record(ctx context.Context, entityID int64, assetType model.AssetType, libraryPath, cachePath, language, quality string, forced, sdh bool) error {
	if err := r.Store.Record(ctx, entityID, assetType, libraryPath, cachePath, language, quality, forced, sdh); err != nil {
		return err
	}
	if assetType != model.AssetSubtitle {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subtitle_streams (entity_id, language, forced, sdh, source, path)
		VALUES (?, ?, ?, ?, 'discovery', ?)
	`, entityID, language, forced, sdh, libraryPath)
	if err != nil {
		return apperr.New(apperr.Storage, err)
	}
	return nil
}
