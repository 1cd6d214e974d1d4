package assetcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/medialibrarian/curator/internal/model"
	"github.com/medialibrarian/curator/internal/storage"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, t.TempDir())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestAdd_NewAssetIsNewAndOnDisk(t *testing.T) {
	c := newTestCache(t)
	src := writeFile(t, t.TempDir(), "poster.jpg", "poster bytes")

	res, err := c.Add(context.Background(), src, AddMetadata{SourceKind: model.SourceLocal})
	require.NoError(t, err)
	require.True(t, res.IsNew)
	require.FileExists(t, res.Path)
}

func TestAdd_DuplicateIncrementsRefCountWithoutNewRow(t *testing.T) {
	c := newTestCache(t)
	dir := t.TempDir()
	src1 := writeFile(t, dir, "a.jpg", "identical bytes")
	src2 := writeFile(t, dir, "b.jpg", "identical bytes")

	r1, err := c.Add(context.Background(), src1, AddMetadata{SourceKind: model.SourceLocal})
	require.NoError(t, err)
	r2, err := c.Add(context.Background(), src2, AddMetadata{SourceKind: model.SourceLocal})
	require.NoError(t, err)

	require.Equal(t, r1.ID, r2.ID)
	require.Equal(t, r1.Hash, r2.Hash)
	require.False(t, r2.IsNew)

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.ActiveCount)
}

func TestCleanupOrphans_RemovesZeroRefRows(t *testing.T) {
	c := newTestCache(t)
	src := writeFile(t, t.TempDir(), "trailer.mp4", "trailer bytes")

	res, err := c.Add(context.Background(), src, AddMetadata{SourceKind: model.SourceLocal})
	require.NoError(t, err)
	require.NoError(t, c.Unref(context.Background(), res.ID))

	result, err := c.CleanupOrphans(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, result.Deleted)
	require.NoFileExists(t, res.Path)
}

func TestUnref_NeverGoesBelowZero(t *testing.T) {
	c := newTestCache(t)
	src := writeFile(t, t.TempDir(), "x.jpg", "x")
	res, err := c.Add(context.Background(), src, AddMetadata{SourceKind: model.SourceLocal})
	require.NoError(t, err)

	require.NoError(t, c.Unref(context.Background(), res.ID))
	require.NoError(t, c.Unref(context.Background(), res.ID))

	asset, ok, err := c.findByHash(context.Background(), res.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, asset.ReferenceCount)
}

func TestVerifyIntegrity_DetectsMissingAndCorrupted(t *testing.T) {
	c := newTestCache(t)
	src := writeFile(t, t.TempDir(), "y.jpg", "y bytes")
	res, err := c.Add(context.Background(), src, AddMetadata{SourceKind: model.SourceLocal})
	require.NoError(t, err)

	reports, err := c.VerifyIntegrity(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, IntegrityValid, reports[0].Status)

	require.NoError(t, os.WriteFile(res.Path, []byte("corrupted"), 0644))
	reports, err = c.VerifyIntegrity(context.Background())
	require.NoError(t, err)
	require.Equal(t, IntegrityCorrupted, reports[0].Status)

	require.NoError(t, os.Remove(res.Path))
	reports, err = c.VerifyIntegrity(context.Background())
	require.NoError(t, err)
	require.Equal(t, IntegrityMissing, reports[0].Status)
}
