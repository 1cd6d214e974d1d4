package priorityprofile

import (
	"context"
	"testing"

	"github.com/medialibrarian/curator/internal/model"
	"github.com/stretchr/testify/require"
)

func TestManager_ActiveFallsBackToDefault(t *testing.T) {
	m, err := NewManager(NewMemStore(), "")
	require.NoError(t, err)

	profile, err := m.Active(context.Background())
	require.NoError(t, err)
	require.Equal(t, "default", profile.Name)
	require.Equal(t, []string{"tmdb", "local"}, profile.FieldOrder["title"])
}

func TestManager_ActiveHonorsRegisteredProfile(t *testing.T) {
	store := NewMemStore()
	m, err := NewManager(store, "")
	require.NoError(t, err)
	m.Register(model.PriorityProfile{
		Name:       "custom",
		FieldOrder: map[string][]string{"title": {"fanart"}},
	})
	require.NoError(t, m.SetActive(context.Background(), "custom"))

	profile, err := m.Active(context.Background())
	require.NoError(t, err)
	require.Equal(t, "custom", profile.Name)
}

func TestManager_UnknownActiveNameFallsBackToDefault(t *testing.T) {
	store := NewMemStore()
	require.NoError(t, store.SetActiveName(context.Background(), "missing"))
	m, err := NewManager(store, "")
	require.NoError(t, err)

	profile, err := m.Active(context.Background())
	require.NoError(t, err)
	require.Equal(t, "default", profile.Name)
}
