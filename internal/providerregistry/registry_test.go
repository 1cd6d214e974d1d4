package providerregistry

import (
	"context"
	"testing"

	"github.com/medialibrarian/curator/internal/model"
	"github.com/medialibrarian/curator/internal/provider"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	id        string
	testOK    bool
	testMsg   string
	caps      provider.Capabilities
}

func newFakeAdapter(id string) *fakeAdapter {
	return &fakeAdapter{
		id:     id,
		testOK: true,
		caps: provider.Capabilities{
			ID:                      id,
			SupportedMetadataFields: []string{"title"},
		},
	}
}

func (f *fakeAdapter) Capabilities() provider.Capabilities { return f.caps }
func (f *fakeAdapter) Search(ctx context.Context, req provider.SearchRequest) ([]provider.SearchResult, error) {
	return nil, nil
}
func (f *fakeAdapter) GetMetadata(ctx context.Context, req provider.MetadataRequest) (provider.MetadataResponse, error) {
	return provider.MetadataResponse{}, nil
}
func (f *fakeAdapter) GetAssets(ctx context.Context, req provider.AssetRequest) ([]model.AssetCandidate, error) {
	return nil, nil
}
func (f *fakeAdapter) TestConnection(ctx context.Context) provider.ConnectionTestResult {
	return provider.ConnectionTestResult{OK: f.testOK, Message: f.testMsg}
}

func TestRegistry_RegisterPersistsDefaultConfig(t *testing.T) {
	store := NewMemConfigStore()
	reg := New(store)

	require.NoError(t, reg.Register(context.Background(), newFakeAdapter("tmdb")))

	cfg, ok := reg.Config("tmdb")
	require.True(t, ok)
	require.True(t, cfg.Enabled)
	require.Equal(t, model.TestNeverTested, cfg.LastTestStatus)

	persisted, err := store.Get(context.Background(), "tmdb")
	require.NoError(t, err)
	require.NotNil(t, persisted)
}

func TestRegistry_RegisterDoesNotOverwriteExistingConfig(t *testing.T) {
	store := NewMemConfigStore()
	require.NoError(t, store.Upsert(context.Background(), model.ProviderConfig{
		Name: "tmdb", Enabled: false, LastTestStatus: model.TestSuccess,
	}))

	reg := New(store)
	require.NoError(t, reg.LoadConfigs(context.Background()))
	require.NoError(t, reg.Register(context.Background(), newFakeAdapter("tmdb")))

	cfg, _ := reg.Config("tmdb")
	require.False(t, cfg.Enabled)
	require.Equal(t, model.TestSuccess, cfg.LastTestStatus)
}

func TestRegistry_EnabledExcludesDisabledProviders(t *testing.T) {
	store := NewMemConfigStore()
	reg := New(store)
	require.NoError(t, reg.Register(context.Background(), newFakeAdapter("tmdb")))
	require.NoError(t, reg.Register(context.Background(), newFakeAdapter("fanart")))
	require.NoError(t, reg.SetEnabled(context.Background(), "fanart", false))

	enabled := reg.Enabled()
	require.Len(t, enabled, 1)
	require.Equal(t, "tmdb", enabled[0].Capabilities().ID)
}

func TestRegistry_TestConnectionRecordsOutcome(t *testing.T) {
	store := NewMemConfigStore()
	reg := New(store)
	a := newFakeAdapter("tmdb")
	a.testOK = false
	a.testMsg = "unauthorized"
	require.NoError(t, reg.Register(context.Background(), a))

	result, err := reg.TestConnection(context.Background(), "tmdb")
	require.NoError(t, err)
	require.False(t, result.OK)

	cfg, ok := reg.Config("tmdb")
	require.True(t, ok)
	require.Equal(t, model.TestError, cfg.LastTestStatus)
	require.Equal(t, "unauthorized", cfg.LastTestError)
}

func TestRegistry_TestConnectionUnknownProviderReturnsNotFound(t *testing.T) {
	reg := New(NewMemConfigStore())
	_, err := reg.TestConnection(context.Background(), "missing")
	require.Error(t, err)
}

func TestRegistry_SetAPIKeyPersists(t *testing.T) {
	store := NewMemConfigStore()
	reg := New(store)
	require.NoError(t, reg.Register(context.Background(), newFakeAdapter("tmdb")))
	require.NoError(t, reg.SetAPIKey(context.Background(), "tmdb", "secret-key"))

	cfg, _ := reg.Config("tmdb")
	require.NotNil(t, cfg.APIKey)
	require.Equal(t, "secret-key", *cfg.APIKey)

	persisted, err := store.Get(context.Background(), "tmdb")
	require.NoError(t, err)
	require.NotNil(t, persisted.APIKey)
	require.Equal(t, "secret-key", *persisted.APIKey)
}
