package entity

import (
	"context"
	"testing"
	"time"

	"github.com/medialibrarian/curator/internal/model"
	"github.com/stretchr/testify/require"
)

func TestMemStore_UpsertByPathIsIdempotent(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	first, err := s.UpsertByPath(ctx, model.Entity{LibraryID: 1, Kind: model.KindMovie, Path: "/movies/Up (2009)", Title: "Up", Year: 2009})
	require.NoError(t, err)
	require.NotZero(t, first.ID)

	second, err := s.UpsertByPath(ctx, model.Entity{LibraryID: 1, Kind: model.KindMovie, Path: "/movies/Up (2009)", Title: "Up (rescanned)", Year: 2009})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "Up", second.Title) // rescan never overwrites an existing row
}

func TestMemStore_ApplyFieldsMergesAndBumpsVersion(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	e, err := s.UpsertByPath(ctx, model.Entity{LibraryID: 1, Path: "/movies/Up (2009)", Title: "Up"})
	require.NoError(t, err)

	updated, err := s.ApplyFields(ctx, e.ID, map[string]any{"plot": "A house flies away."}, model.StateEnriched)
	require.NoError(t, err)
	require.Equal(t, "A house flies away.", updated.Fields["plot"])
	require.Equal(t, model.StateEnriched, updated.State)
	require.Equal(t, e.Version+1, updated.Version)
	require.NotNil(t, updated.LastScrapedAt)
}

func TestMemStore_ListEnrichmentCandidatesOrdersByPriorityThenID(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	low, _ := s.UpsertByPath(ctx, model.Entity{LibraryID: 1, Path: "/a", Monitored: true, EnrichmentPriority: 2})
	high, _ := s.UpsertByPath(ctx, model.Entity{LibraryID: 1, Path: "/b", Monitored: true, EnrichmentPriority: 9})
	_, _ = s.UpsertByPath(ctx, model.Entity{LibraryID: 1, Path: "/c", Monitored: false, EnrichmentPriority: 9})

	candidates, err := s.ListEnrichmentCandidates(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, high.ID, candidates[0].ID)
	require.Equal(t, low.ID, candidates[1].ID)
}

func TestMemStore_ListEnrichmentCandidatesSkipsRecentlyScraped(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	e, _ := s.UpsertByPath(ctx, model.Entity{LibraryID: 1, Path: "/a", Monitored: true, EnrichmentPriority: 5})
	_, err := s.ApplyFields(ctx, e.ID, nil, model.StateEnriched)
	require.NoError(t, err)

	candidates, err := s.ListEnrichmentCandidates(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, candidates)
}

func TestMemStore_SetExternalIDsIgnoresEmptyFields(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	e, _ := s.UpsertByPath(ctx, model.Entity{LibraryID: 1, Path: "/a"})
	require.NoError(t, s.SetExternalIDs(ctx, e.ID, model.ExternalIDs{TMDB: "603"}))
	require.NoError(t, s.SetExternalIDs(ctx, e.ID, model.ExternalIDs{}))

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, "603", got.ExternalIDs.TMDB)
}
