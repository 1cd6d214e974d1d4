package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medialibrarian/curator/internal/model"
	"github.com/stretchr/testify/require"
)

func newTestTMDBAdapter(baseURL string) *TMDBAdapter {
	return NewTMDBAdapter(TMDBConfig{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		RequestTimeout: 2 * time.Second,
	}, nil)
}

func TestTMDBAdapter_SearchParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search/movie", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"id":157336,"title":"Interstellar","release_date":"2014-11-05","popularity":85.2}]}`))
	}))
	defer srv.Close()

	a := newTestTMDBAdapter(srv.URL)
	results, err := a.Search(context.Background(), SearchRequest{Query: "Interstellar"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "157336", results[0].ExternalID)
	require.Equal(t, "Interstellar", results[0].Title)
	require.Equal(t, 2014, results[0].Year)
}

func TestTMDBAdapter_GetMetadataWithoutExternalIDFails(t *testing.T) {
	a := newTestTMDBAdapter("http://unused.invalid")
	_, err := a.GetMetadata(context.Background(), MetadataRequest{
		Entity: model.Entity{ID: 1},
	})
	require.Error(t, err)
}

func TestTMDBAdapter_GetMetadataParsesFieldsAndComputesCompleteness(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"title": "Interstellar",
			"overview": "A team of explorers travel through a wormhole.",
			"tagline": "Mankind was born on Earth. It was never meant to die here.",
			"vote_average": 8.4,
			"genres": [{"name": "Science Fiction"}, {"name": "Drama"}],
			"imdb_id": "tt0816692"
		}`))
	}))
	defer srv.Close()

	a := newTestTMDBAdapter(srv.URL)
	resp, err := a.GetMetadata(context.Background(), MetadataRequest{
		Entity:          model.Entity{ID: 1, ExternalIDs: model.ExternalIDs{TMDB: "157336"}},
		RequestedFields: []string{"title", "plot", "tagline", "rating", "genres"},
	})
	require.NoError(t, err)
	require.Equal(t, "Interstellar", resp.Fields["title"])
	require.Equal(t, "tt0816692", resp.ExternalIDs.IMDB)
	require.Equal(t, 1.0, resp.Completeness)
}

func TestTMDBAdapter_GetAssetsFiltersByRequestedTypes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"posters": [{"file_path": "/poster1.jpg", "width": 1000, "height": 1500, "vote_average": 5.5, "vote_count": 10, "iso_639_1": "en"}],
			"backdrops": [{"file_path": "/backdrop1.jpg", "width": 1920, "height": 1080, "vote_average": 6.0, "vote_count": 4, "iso_639_1": "en"}]
		}`))
	}))
	defer srv.Close()

	a := newTestTMDBAdapter(srv.URL)
	candidates, err := a.GetAssets(context.Background(), AssetRequest{
		Entity:     model.Entity{ID: 1, ExternalIDs: model.ExternalIDs{TMDB: "157336"}},
		AssetTypes: []model.AssetType{model.AssetPoster},
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, model.AssetPoster, candidates[0].AssetType)
	require.Equal(t, "https://image.tmdb.org/t/p/original/poster1.jpg", candidates[0].URL)
}

func TestTMDBAdapter_GetAssetsWithoutExternalIDReturnsNil(t *testing.T) {
	a := newTestTMDBAdapter("http://unused.invalid")
	candidates, err := a.GetAssets(context.Background(), AssetRequest{Entity: model.Entity{ID: 1}})
	require.NoError(t, err)
	require.Nil(t, candidates)
}

func TestTMDBAdapter_TestConnectionReportsFailureOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := newTestTMDBAdapter(srv.URL)
	result := a.TestConnection(context.Background())
	require.False(t, result.OK)
}

func TestTMDBAdapter_CapabilitiesAdvertiseExpectedFields(t *testing.T) {
	a := newTestTMDBAdapter("http://unused.invalid")
	caps := a.Capabilities()
	require.Equal(t, "tmdb", caps.ID)
	require.True(t, caps.SupportsField("plot"))
	require.True(t, caps.SupportsAssetType(model.AssetPoster))
}
