package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/medialibrarian/curator/internal/assetcache"
	"github.com/medialibrarian/curator/internal/assetcandidate"
	"github.com/medialibrarian/curator/internal/discovery"
	"github.com/medialibrarian/curator/internal/entity"
	"github.com/medialibrarian/curator/internal/eventbus"
	"github.com/medialibrarian/curator/internal/locks"
	"github.com/medialibrarian/curator/internal/model"
	"github.com/medialibrarian/curator/internal/orchestrator"
	"github.com/medialibrarian/curator/internal/priorityprofile"
	"github.com/medialibrarian/curator/internal/provider"
	"github.com/medialibrarian/curator/internal/storage"
)

// fakeAdapter is a minimal test-only provider.Adapter standing in for a real
// catalog adapter, the way orchestrator_test.go's own fakes would (the
// orchestrator package has no exported test adapter to reuse).
type fakeAdapter struct {
	id         string
	fields     map[string]any
	candidates []model.AssetCandidate
}

func (f fakeAdapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		ID:                      f.id,
		SupportedMetadataFields: []string{"title", "plot", "tagline", "rating", "genres", "year"},
		SupportedAssetTypes:     []model.AssetType{model.AssetPoster, model.AssetFanart, model.AssetBanner},
	}
}

func (f fakeAdapter) Search(ctx context.Context, req provider.SearchRequest) ([]provider.SearchResult, error) {
	return nil, nil
}

func (f fakeAdapter) GetMetadata(ctx context.Context, req provider.MetadataRequest) (provider.MetadataResponse, error) {
	return provider.MetadataResponse{Fields: f.fields, Completeness: 1}, nil
}

func (f fakeAdapter) GetAssets(ctx context.Context, req provider.AssetRequest) ([]model.AssetCandidate, error) {
	return f.candidates, nil
}

func (f fakeAdapter) TestConnection(ctx context.Context) provider.ConnectionTestResult {
	return provider.ConnectionTestResult{OK: true}
}

type fakeRegistry struct{ adapters []provider.Adapter }

func (r fakeRegistry) Enabled() []provider.Adapter { return r.adapters }

func newTestOrchestrator(t *testing.T, adapters ...provider.Adapter) *orchestrator.Orchestrator {
	t.Helper()
	manager, err := priorityprofile.NewManager(priorityprofile.NewMemStore(), "")
	require.NoError(t, err)
	lockRegistry := locks.New(locks.NewMemStore())
	return orchestrator.New(fakeRegistry{adapters: adapters}, manager, lockRegistry, eventbus.New())
}

func newTestDeps(t *testing.T, adapters ...provider.Adapter) (*Deps, *entity.MemStore) {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	entities := entity.NewMemStore()
	cacheRoot := t.TempDir()
	cache := assetcache.New(db, cacheRoot)
	discoveryStore := discovery.NewSQLiteStore(db)
	queue := newFakeQueue()

	deps := &Deps{
		Entities:   entities,
		Orch:       newTestOrchestrator(t, adapters...),
		Candidates: assetcandidate.NewMemStore(),
		Cache:      cache,
		Discovery:  discoveryStore,
		Queue:      queue,
	}
	return deps, entities
}

type fakeQueue struct {
	jobs []model.Job
}

func newFakeQueue() *fakeQueue { return &fakeQueue{} }

func (q *fakeQueue) Enqueue(ctx context.Context, job model.Job) (int64, error) {
	q.jobs = append(q.jobs, job)
	return int64(len(q.jobs)), nil
}

func seedEntity(t *testing.T, store *entity.MemStore) model.Entity {
	t.Helper()
	e, err := store.UpsertByPath(context.Background(), model.Entity{
		LibraryID: 1,
		Kind:      model.KindMovie,
		Path:      "/movies/Interstellar (2014)/Interstellar.mkv",
		Title:     "Interstellar",
		Monitored: true,
		State:     model.StateDiscovered,
	})
	require.NoError(t, err)
	return e
}

func TestFetchProviderAssetsHandler_appliesFieldsAndChainsSelect(t *testing.T) {
	adapter := fakeAdapter{
		id:     "tmdb",
		fields: map[string]any{"title": "Interstellar", "plot": "A team of explorers."},
		candidates: []model.AssetCandidate{
			{AssetType: model.AssetPoster, URL: "https://example.test/poster.jpg", ProviderName: "tmdb", CommunityScore: 9},
		},
	}
	deps, entities := newTestDeps(t, adapter)
	e := seedEntity(t, entities)

	handler := FetchProviderAssetsHandler(deps)
	err := handler(context.Background(), model.Job{
		Type:    model.JobFetchProviderAssets,
		Payload: map[string]any{"entityId": e.ID},
	})
	require.NoError(t, err)

	updated, err := entities.Get(context.Background(), e.ID)
	require.NoError(t, err)
	require.Equal(t, "Interstellar", updated.Fields["title"])

	q := deps.Queue.(*fakeQueue)
	require.Len(t, q.jobs, 1)
	require.Equal(t, model.JobSelectAssets, q.jobs[0].Type)

	winners, err := deps.Candidates.TopByType(context.Background(), e.ID)
	require.NoError(t, err)
	require.Contains(t, winners, model.AssetPoster)
}

func TestSelectAssetsHandler_downloadsWinnerIntoCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("fake-jpeg-bytes"))
	}))
	defer srv.Close()

	deps, entities := newTestDeps(t)
	e := seedEntity(t, entities)

	require.NoError(t, deps.Candidates.Replace(context.Background(), e.ID, []model.AssetCandidate{
		{EntityID: e.ID, AssetType: model.AssetPoster, URL: srv.URL + "/poster.jpg", ProviderName: "tmdb", Score: 5},
	}))

	handler := SelectAssetsHandler(deps)
	err := handler(context.Background(), model.Job{
		Type:    model.JobSelectAssets,
		Payload: map[string]any{"entityId": e.ID},
	})
	require.NoError(t, err)

	remaining, err := deps.Candidates.TopByType(context.Background(), e.ID)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestEntityIDFromPayload_rejectsMissingKey(t *testing.T) {
	_, err := entityIDFromPayload(map[string]any{})
	require.Error(t, err)
}

func TestEntityIDFromPayload_acceptsFloat64FromJSON(t *testing.T) {
	id, err := entityIDFromPayload(map[string]any{"entityId": float64(42)})
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
}
