// Package assetcache implements the content-addressed on-disk asset store
// described in spec.md §4.5: add/ref/unref, orphan cleanup, and integrity
// verification, backed by the shared sqlite database (internal/storage) and
// a sharded filesystem root.
package assetcache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/hashing"
	"github.com/medialibrarian/curator/internal/model"
)

// Cache is a content-addressed store rooted at Root, metadata in DB.
type Cache struct {
	db   *sqlx.DB
	root string
}

// New returns a Cache rooted at root, using db for metadata rows.
func New(db *sqlx.DB, root string) *Cache {
	return &Cache{db: db, root: root}
}

// AddMetadata carries the caller-supplied provenance for a new asset. Width
// and Height apply to images only.
type AddMetadata struct {
	MimeType     string
	Width        int
	Height       int
	SourceKind   model.AssetSourceKind
	SourceURL    string
	ProviderName string
}

// AddResult is returned by Add.
type AddResult struct {
	ID    int64
	Hash  string
	Path  string
	Size  int64
	IsNew bool
}

// Add ingests sourceFilePath into the cache. If an asset with the same
// content hash already exists, its reference_count is incremented and the
// existing row is returned with IsNew=false. Otherwise the file is copied
// into the sharded cache root via temp-then-rename (atomic within a
// filesystem) and a new row is inserted with reference_count=1.
func (c *Cache) Add(ctx context.Context, sourceFilePath string, meta AddMetadata) (AddResult, error) {
	hash, err := hashing.ContentHash(sourceFilePath)
	if err != nil {
		return AddResult{}, apperr.New(apperr.FSNotFound, err)
	}

	if existing, ok, err := c.findByHash(ctx, hash); err != nil {
		return AddResult{}, apperr.New(apperr.Storage, err)
	} else if ok {
		if err := c.touchAndIncrement(ctx, existing.ID); err != nil {
			return AddResult{}, apperr.New(apperr.Storage, err)
		}
		return AddResult{ID: existing.ID, Hash: existing.ContentHash, Path: existing.FilePath, Size: existing.FileSize, IsNew: false}, nil
	}

	ext := filepath.Ext(sourceFilePath)
	finalPath := shardedPath(c.root, hash, ext)
	size, err := copyAtomic(sourceFilePath, finalPath)
	if err != nil {
		return AddResult{}, apperr.New(apperr.Storage, err)
	}

	// Rehash the copy so a row is only ever inserted for bytes actually on
	// disk at finalPath (guards against a source file changing mid-copy).
	rehash, err := hashing.ContentHash(finalPath)
	if err != nil {
		return AddResult{}, apperr.New(apperr.Storage, err)
	}
	if rehash != hash {
		os.Remove(finalPath)
		return AddResult{}, apperr.Newf(apperr.Storage, "assetcache: source changed during copy")
	}

	var phash string
	if meta.Width > 0 && meta.Height > 0 {
		if h, err := hashing.DecodeAndHash(finalPath); err == nil {
			phash = h
		}
	}

	id, isNew, err := c.upsertRow(ctx, hash, finalPath, size, meta, phash)
	if err != nil {
		os.Remove(finalPath)
		return AddResult{}, apperr.New(apperr.Storage, err)
	}
	if !isNew {
		// Lost the race to a concurrent Add of the same hash: drop our copy,
		// the other adder's file is now the canonical one.
		os.Remove(finalPath)
		row, _, _ := c.findByHash(ctx, hash)
		return AddResult{ID: id, Hash: hash, Path: row.FilePath, Size: row.FileSize, IsNew: false}, nil
	}
	return AddResult{ID: id, Hash: hash, Path: finalPath, Size: size, IsNew: true}, nil
}

func (c *Cache) findByHash(ctx context.Context, hash string) (model.CacheAsset, bool, error) {
	var row cacheAssetRow
	err := c.db.GetContext(ctx, &row, `SELECT * FROM cache_assets WHERE content_hash = ?`, hash)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return model.CacheAsset{}, false, nil
		}
		return model.CacheAsset{}, false, err
	}
	return row.toModel(), true, nil
}

func (c *Cache) touchAndIncrement(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE cache_assets SET reference_count = reference_count + 1, last_accessed_at = ? WHERE id = ?`,
		time.Now(), id)
	return err
}

// upsertRow inserts a new row, or — if a concurrent Add beat us to the same
// hash — increments its reference_count instead, converging on one row per
// content hash via the UNIQUE(content_hash) index. The INSERT is attempted
// first and only falls back to an increment on a unique-constraint conflict,
// so a genuinely new hash never depends on ambiguous RowsAffected semantics.
func (c *Cache) upsertRow(ctx context.Context, hash, path string, size int64, meta AddMetadata, phash string) (id int64, isNew bool, err error) {
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO cache_assets
			(content_hash, file_path, file_size, mime_type, width, height, perceptual_hash,
			 source_kind, source_url, provider_name, reference_count, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, hash, path, size, meta.MimeType, meta.Width, meta.Height, phash,
		string(meta.SourceKind), meta.SourceURL, meta.ProviderName, time.Now(), time.Now())
	if err == nil {
		newID, idErr := res.LastInsertId()
		if idErr != nil {
			return 0, false, idErr
		}
		return newID, true, nil
	}
	if !isUniqueViolation(err) {
		return 0, false, err
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE cache_assets SET reference_count = reference_count + 1, last_accessed_at = ? WHERE content_hash = ?`,
		time.Now(), hash); err != nil {
		return 0, false, err
	}
	row, ok, err := c.findByHash(ctx, hash)
	if err != nil || !ok {
		return 0, false, fmt.Errorf("assetcache: row vanished after upsert conflict")
	}
	return row.ID, false, nil
}

// isUniqueViolation reports whether err is a sqlite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Ref increments the reference count for id.
func (c *Cache) Ref(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx, `UPDATE cache_assets SET reference_count = reference_count + 1 WHERE id = ?`, id)
	return err
}

// Unref decrements the reference count for id, never below zero.
func (c *Cache) Unref(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE cache_assets SET reference_count = MAX(0, reference_count - 1) WHERE id = ?`, id)
	return err
}

// CleanupResult aggregates the outcome of CleanupOrphans.
type CleanupResult struct {
	Deleted    int
	FreedBytes int64
	Errors     []error
}

// CleanupOrphans deletes the file then the row for every asset with
// reference_count=0. File is removed before the row so a crash between the
// two leaves only a phantom row, which the next sweep safely removes (it has
// no file to delete, and the row delete is idempotent).
func (c *Cache) CleanupOrphans(ctx context.Context, dryRun bool) (CleanupResult, error) {
	var rows []cacheAssetRow
	if err := c.db.SelectContext(ctx, &rows, `SELECT * FROM cache_assets WHERE reference_count = 0`); err != nil {
		return CleanupResult{}, apperr.New(apperr.Storage, err)
	}

	var result CleanupResult
	for _, row := range rows {
		if dryRun {
			result.Deleted++
			result.FreedBytes += row.FileSize
			continue
		}
		if err := os.Remove(row.FilePath); err != nil && !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Errorf("remove %s: %w", row.FilePath, err))
			continue
		}
		if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_assets WHERE id = ?`, row.ID); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("delete row %d: %w", row.ID, err))
			continue
		}
		result.Deleted++
		result.FreedBytes += row.FileSize
	}
	return result, nil
}

// IntegrityStatus classifies a single row during VerifyIntegrity.
type IntegrityStatus string

const (
	IntegrityValid     IntegrityStatus = "valid"
	IntegrityMissing   IntegrityStatus = "missing"
	IntegrityCorrupted IntegrityStatus = "corrupted"
)

// IntegrityReport pairs a cache asset id with its verification outcome.
type IntegrityReport struct {
	ID     int64
	Status IntegrityStatus
}

// VerifyIntegrity enumerates all rows and confirms the file exists and
// rehashes to the stored content hash.
func (c *Cache) VerifyIntegrity(ctx context.Context) ([]IntegrityReport, error) {
	var rows []cacheAssetRow
	if err := c.db.SelectContext(ctx, &rows, `SELECT * FROM cache_assets`); err != nil {
		return nil, apperr.New(apperr.Storage, err)
	}
	reports := make([]IntegrityReport, 0, len(rows))
	for _, row := range rows {
		status := IntegrityValid
		if _, err := os.Stat(row.FilePath); err != nil {
			status = IntegrityMissing
		} else if rehash, err := hashing.ContentHash(row.FilePath); err != nil || rehash != row.ContentHash {
			status = IntegrityCorrupted
		}
		reports = append(reports, IntegrityReport{ID: row.ID, Status: status})
	}
	return reports, nil
}

// Stats summarizes counts and totals, partitioned by reference-count > 0.
type Stats struct {
	ActiveCount   int
	ActiveBytes   int64
	OrphanedCount int
	OrphanedBytes int64
}

type countBytes struct {
	Count int   `db:"c"`
	Bytes int64 `db:"b"`
}

// Stats computes aggregate counts and byte totals.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var active, orphaned countBytes
	if err := c.db.GetContext(ctx, &active,
		`SELECT COUNT(*) AS c, COALESCE(SUM(file_size),0) AS b FROM cache_assets WHERE reference_count > 0`); err != nil {
		return Stats{}, apperr.New(apperr.Storage, err)
	}
	if err := c.db.GetContext(ctx, &orphaned,
		`SELECT COUNT(*) AS c, COALESCE(SUM(file_size),0) AS b FROM cache_assets WHERE reference_count = 0`); err != nil {
		return Stats{}, apperr.New(apperr.Storage, err)
	}
	return Stats{
		ActiveCount:   active.Count,
		ActiveBytes:   active.Bytes,
		OrphanedCount: orphaned.Count,
		OrphanedBytes: orphaned.Bytes,
	}, nil
}

// copyAtomic copies src into a temp sibling of dst, then renames into place.
// Returns the number of bytes written.
func copyAtomic(src, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("assetcache: mkdir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("assetcache: open source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-"+filepath.Base(dst)+"-*")
	if err != nil {
		return 0, fmt.Errorf("assetcache: create temp: %w", err)
	}
	tmpPath := tmp.Name()

	n, copyErr := io.Copy(tmp, in)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if copyErr != nil {
			return 0, fmt.Errorf("assetcache: copy: %w", copyErr)
		}
		return 0, fmt.Errorf("assetcache: close temp: %w", closeErr)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("assetcache: rename: %w", err)
	}
	return n, nil
}

// cacheAssetRow mirrors the cache_assets table for sqlx scanning.
type cacheAssetRow struct {
	ID             int64     `db:"id"`
	ContentHash    string    `db:"content_hash"`
	FilePath       string    `db:"file_path"`
	FileSize       int64     `db:"file_size"`
	MimeType       string    `db:"mime_type"`
	Width          int       `db:"width"`
	Height         int       `db:"height"`
	PerceptualHash string    `db:"perceptual_hash"`
	SourceKind     string    `db:"source_kind"`
	SourceURL      string    `db:"source_url"`
	ProviderName   string    `db:"provider_name"`
	ReferenceCount int       `db:"reference_count"`
	CreatedAt      time.Time `db:"created_at"`
	LastAccessedAt time.Time `db:"last_accessed_at"`
}

func (r cacheAssetRow) toModel() model.CacheAsset {
	return model.CacheAsset{
		ID:             r.ID,
		ContentHash:    r.ContentHash,
		FilePath:       r.FilePath,
		FileSize:       r.FileSize,
		MimeType:       r.MimeType,
		Width:          r.Width,
		Height:         r.Height,
		PerceptualHash: r.PerceptualHash,
		SourceKind:     model.AssetSourceKind(r.SourceKind),
		SourceURL:      r.SourceURL,
		ProviderName:   r.ProviderName,
		ReferenceCount: r.ReferenceCount,
		CreatedAt:      r.CreatedAt,
		LastAccessedAt: r.LastAccessedAt,
	}
}
