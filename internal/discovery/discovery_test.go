package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/medialibrarian/curator/internal/assetcache"
	"github.com/medialibrarian/curator/internal/model"
	"github.com/medialibrarian/curator/internal/storage"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
}

func TestClassify_RecognizesImageBannerAndFanartVariants(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Up (2009).mkv")
	touch(t, dir, "Up (2009)-poster.jpg")
	touch(t, dir, "fanart2.jpg")
	touch(t, dir, "banner.png")

	findings, err := Classify(dir, "Up (2009)")
	require.NoError(t, err)
	byType := map[model.AssetType]int{}
	for _, f := range findings {
		byType[f.AssetType]++
	}
	require.Equal(t, 1, byType[model.AssetPoster])
	require.Equal(t, 1, byType[model.AssetFanart])
	require.Equal(t, 1, byType[model.AssetBanner])
}

func TestClassify_RecognizesTrailerWithQualityToken(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Up (2009)-trailer-1080p.mkv")

	findings, err := Classify(dir, "Up (2009)")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, model.AssetTrailer, findings[0].AssetType)
	require.Equal(t, "1080p", findings[0].Quality)
}

func TestClassify_RecognizesForcedEnglishSubtitle(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Up (2009).en.forced.srt")

	findings, err := Classify(dir, "Up (2009)")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, model.AssetSubtitle, findings[0].AssetType)
	require.Equal(t, "eng", findings[0].Language)
	require.True(t, findings[0].Forced)
}

func TestClassify_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Up (2009).mkv")
	touch(t, dir, "readme.txt")

	findings, err := Classify(dir, "Up (2009)")
	require.NoError(t, err)
	require.Empty(t, findings)
}

func TestService_DiscoverAndIngestRecordsCachePath(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Up (2009).mkv")
	touch(t, dir, "Up (2009)-poster.jpg")

	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	cache := assetcache.New(db, t.TempDir())
	store := NewMemStore()

	svc := New(cache, store)
	n, err := svc.DiscoverAndIngest(context.Background(), 1, dir, "Up (2009)")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, store.Items, 1)
	require.Equal(t, model.AssetPoster, store.Items[0].AssetType)
	require.NotEmpty(t, store.Items[0].CachePath)
}
