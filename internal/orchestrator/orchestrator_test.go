package orchestrator

import (
	"context"
	"testing"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/eventbus"
	"github.com/medialibrarian/curator/internal/locks"
	"github.com/medialibrarian/curator/internal/model"
	"github.com/medialibrarian/curator/internal/provider"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	id        string
	caps      provider.Capabilities
	metaResp  provider.MetadataResponse
	metaErr   error
	assets    []model.AssetCandidate
	assetsErr error
}

func (s *stubAdapter) Capabilities() provider.Capabilities { return s.caps }
func (s *stubAdapter) Search(ctx context.Context, req provider.SearchRequest) ([]provider.SearchResult, error) {
	return nil, nil
}
func (s *stubAdapter) GetMetadata(ctx context.Context, req provider.MetadataRequest) (provider.MetadataResponse, error) {
	return s.metaResp, s.metaErr
}
func (s *stubAdapter) GetAssets(ctx context.Context, req provider.AssetRequest) ([]model.AssetCandidate, error) {
	return s.assets, s.assetsErr
}
func (s *stubAdapter) TestConnection(ctx context.Context) provider.ConnectionTestResult {
	return provider.ConnectionTestResult{OK: true}
}

type stubRegistry struct{ adapters []provider.Adapter }

func (r stubRegistry) Enabled() []provider.Adapter { return r.adapters }

type stubProfiles struct{ profile model.PriorityProfile }

func (p stubProfiles) Active(ctx context.Context) (model.PriorityProfile, error) {
	return p.profile, nil
}

func newOrchestrator(adapters []provider.Adapter, profile model.PriorityProfile) *Orchestrator {
	return New(stubRegistry{adapters}, stubProfiles{profile}, locks.New(locks.NewMemStore()), eventbus.New())
}

func fieldCaps(id string, fields ...string) provider.Capabilities {
	return provider.Capabilities{ID: id, SupportedMetadataFields: fields}
}

func TestOrchestrator_HighestPriorityWithDataWins(t *testing.T) {
	tmdb := &stubAdapter{id: "tmdb", caps: fieldCaps("tmdb", "title"), metaResp: provider.MetadataResponse{
		Fields: map[string]any{"title": "From TMDB"}, Completeness: 1.0,
	}}
	local := &stubAdapter{id: "local", caps: fieldCaps("local", "title"), metaResp: provider.MetadataResponse{
		Fields: map[string]any{"title": "From Local"}, Completeness: 1.0,
	}}
	profile := model.PriorityProfile{Name: "default", FieldOrder: map[string][]string{"title": {"tmdb", "local"}}}

	o := newOrchestrator([]provider.Adapter{tmdb, local}, profile)
	result, err := o.Fetch(context.Background(), model.Entity{ID: 1}, []string{"title"}, nil)
	require.NoError(t, err)
	require.Equal(t, "From TMDB", result.FieldsApplied["title"])
	require.False(t, result.Partial)
}

func TestOrchestrator_FallsBackWhenHigherPriorityHasNoData(t *testing.T) {
	tmdb := &stubAdapter{id: "tmdb", caps: fieldCaps("tmdb", "title"), metaResp: provider.MetadataResponse{}}
	local := &stubAdapter{id: "local", caps: fieldCaps("local", "title"), metaResp: provider.MetadataResponse{
		Fields: map[string]any{"title": "From Local"},
	}}
	profile := model.PriorityProfile{Name: "default", FieldOrder: map[string][]string{"title": {"tmdb", "local"}}}

	o := newOrchestrator([]provider.Adapter{tmdb, local}, profile)
	result, err := o.Fetch(context.Background(), model.Entity{ID: 1}, []string{"title"}, nil)
	require.NoError(t, err)
	require.Equal(t, "From Local", result.FieldsApplied["title"])
}

func TestOrchestrator_LockedFieldIsNeverWritten(t *testing.T) {
	tmdb := &stubAdapter{id: "tmdb", caps: fieldCaps("tmdb", "title", "plot"), metaResp: provider.MetadataResponse{
		Fields: map[string]any{"title": "New Title", "plot": "New Plot"},
	}}
	profile := model.PriorityProfile{Name: "default", FieldOrder: map[string][]string{
		"title": {"tmdb"}, "plot": {"tmdb"},
	}}

	lockReg := locks.New(locks.NewMemStore())
	require.NoError(t, lockReg.Lock(context.Background(), 1, "title"))

	o := New(stubRegistry{[]provider.Adapter{tmdb}}, stubProfiles{profile}, lockReg, eventbus.New())
	result, err := o.Fetch(context.Background(), model.Entity{ID: 1}, []string{"title", "plot"}, nil)
	require.NoError(t, err)
	require.NotContains(t, result.FieldsApplied, "title")
	require.Equal(t, "New Plot", result.FieldsApplied["plot"])
}

func TestOrchestrator_AllRateLimitedMarksPartialButReportsProviders(t *testing.T) {
	rateLimitedErr := apperr.New(apperr.RateLimit, context.DeadlineExceeded)
	tmdb := &stubAdapter{id: "tmdb", caps: fieldCaps("tmdb", "title"), metaErr: rateLimitedErr}
	profile := model.PriorityProfile{Name: "default", FieldOrder: map[string][]string{"title": {"tmdb"}}}

	o := newOrchestrator([]provider.Adapter{tmdb}, profile)
	result, err := o.Fetch(context.Background(), model.Entity{ID: 1}, []string{"title"}, nil)
	require.NoError(t, err)
	require.True(t, result.Partial)
	require.Contains(t, result.RateLimited, "tmdb")
	require.NotContains(t, result.FieldsApplied, "title")
}

func TestOrchestrator_ForcedLocalFieldsNeverRequestedFromProviders(t *testing.T) {
	tmdb := &stubAdapter{id: "tmdb", caps: fieldCaps("tmdb", "runtime"), metaResp: provider.MetadataResponse{
		Fields: map[string]any{"runtime": 999},
	}}
	profile := model.PriorityProfile{Name: "default"}

	lockReg := locks.New(locks.NewMemStore())
	o := New(stubRegistry{[]provider.Adapter{tmdb}}, stubProfiles{profile}, lockReg, eventbus.New())
	result, err := o.Fetch(context.Background(), model.Entity{ID: 1}, []string{"runtime"}, nil)
	require.NoError(t, err)
	require.NotContains(t, result.FieldsApplied, "runtime")
}

func TestOrchestrator_AssetCandidatesAreDedupedByPerceptualHash(t *testing.T) {
	providerA := &stubAdapter{
		id:   "tmdb",
		caps: provider.Capabilities{ID: "tmdb", SupportedAssetTypes: []model.AssetType{model.AssetPoster}},
		assets: []model.AssetCandidate{
			{AssetType: model.AssetPoster, URL: "a", CommunityScore: 5, PerceptualHash: "0000000000000000"},
			{AssetType: model.AssetPoster, URL: "b", CommunityScore: 4, PerceptualHash: "0000000000000001"},
		},
	}
	profile := model.PriorityProfile{Name: "default"}
	o := newOrchestrator([]provider.Adapter{providerA}, profile)
	result, err := o.Fetch(context.Background(), model.Entity{ID: 1}, nil, []model.AssetType{model.AssetPoster})
	require.NoError(t, err)
	require.Len(t, result.AssetCandidates, 1)
	require.Equal(t, "a", result.AssetCandidates[0].URL)
}

func TestOrchestrator_AssetCandidatesRespectPerTypeLimit(t *testing.T) {
	var candidates []model.AssetCandidate
	for i := 0; i < 15; i++ {
		candidates = append(candidates, model.AssetCandidate{
			AssetType: model.AssetPoster, URL: string(rune('a' + i)), CommunityScore: float64(i),
		})
	}
	providerA := &stubAdapter{
		id:     "tmdb",
		caps:   provider.Capabilities{ID: "tmdb", SupportedAssetTypes: []model.AssetType{model.AssetPoster}},
		assets: candidates,
	}
	profile := model.PriorityProfile{Name: "default"}
	o := newOrchestrator([]provider.Adapter{providerA}, profile)
	result, err := o.Fetch(context.Background(), model.Entity{ID: 1}, nil, []model.AssetType{model.AssetPoster})
	require.NoError(t, err)
	require.Len(t, result.AssetCandidates, 10)
}
