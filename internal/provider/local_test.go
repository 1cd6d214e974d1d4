package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/medialibrarian/curator/internal/model"
	"github.com/stretchr/testify/require"
)

func writeNFO(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLocalProvider_GetMetadataReadsSidecar(t *testing.T) {
	dir := t.TempDir()
	moviePath := filepath.Join(dir, "Arrival (2016).mkv")
	require.NoError(t, os.WriteFile(moviePath, []byte("fake"), 0o644))
	writeNFO(t, dir, "Arrival (2016).nfo", `<movie>
  <title>Arrival</title>
  <year>2016</year>
  <plot>A linguist deciphers an alien language.</plot>
  <uniqueid>tt2543164</uniqueid>
</movie>`)

	p := NewLocalProvider()
	resp, err := p.GetMetadata(context.Background(), MetadataRequest{
		Entity:          model.Entity{Path: moviePath},
		RequestedFields: []string{"title", "year", "plot"},
	})
	require.NoError(t, err)
	require.Equal(t, "Arrival", resp.Fields["title"])
	require.Equal(t, 2016, resp.Fields["year"])
	require.Equal(t, "tt2543164", resp.ExternalIDs.IMDB)
	require.Equal(t, 1.0, resp.Completeness)
}

func TestLocalProvider_GetMetadataMissingSidecarReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	moviePath := filepath.Join(dir, "NoSidecar.mkv")

	p := NewLocalProvider()
	resp, err := p.GetMetadata(context.Background(), MetadataRequest{
		Entity:          model.Entity{Path: moviePath},
		RequestedFields: []string{"title"},
	})
	require.NoError(t, err)
	require.Empty(t, resp.Fields)
}

func TestLocalProvider_CapabilitiesAdvertiseForcedLocalFields(t *testing.T) {
	p := NewLocalProvider()
	caps := p.Capabilities()
	for field := range model.ForcedLocalFields {
		require.True(t, caps.SupportsField(field), "expected forced-local field %q to be advertised", field)
	}
}

func TestLocalProvider_SearchAndAssetsAreNoops(t *testing.T) {
	p := NewLocalProvider()
	results, err := p.Search(context.Background(), SearchRequest{Query: "anything"})
	require.NoError(t, err)
	require.Nil(t, results)

	assets, err := p.GetAssets(context.Background(), AssetRequest{})
	require.NoError(t, err)
	require.Nil(t, assets)
}

func TestLocalProvider_TestConnectionAlwaysOK(t *testing.T) {
	p := NewLocalProvider()
	result := p.TestConnection(context.Background())
	require.True(t, result.OK)
}

func TestNFOPath_ReplacesExtension(t *testing.T) {
	require.Equal(t, "/lib/Movie (2020).nfo", nfoPath("/lib/Movie (2020).mkv"))
}
