package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/medialibrarian/curator/internal/apperr"
)

func TestBreaker_TripsAtThreshold(t *testing.T) {
	b := New("tmdb", Config{Threshold: 3, ResetTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Execute(ctx, func(ctx context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
	}
	require.Equal(t, "open", b.State())

	err := b.Execute(ctx, func(ctx context.Context) error { return nil })
	code, ok := apperr.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, apperr.ProviderUnavailable, code)
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := New("tvdb", Config{Threshold: 2, ResetTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	boom := errors.New("boom")

	_ = b.Execute(ctx, func(ctx context.Context) error { return boom })
	_ = b.Execute(ctx, func(ctx context.Context) error { return boom })
	require.Equal(t, "open", b.State())

	time.Sleep(30 * time.Millisecond)
	err := b.Execute(ctx, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, "closed", b.State())
}

func TestBreaker_SuccessInClosedResetsCounter(t *testing.T) {
	b := New("fanart", Config{Threshold: 2, ResetTimeout: time.Minute})
	ctx := context.Background()
	boom := errors.New("boom")

	_ = b.Execute(ctx, func(ctx context.Context) error { return boom })
	require.NoError(t, b.Execute(ctx, func(ctx context.Context) error { return nil }))
	_ = b.Execute(ctx, func(ctx context.Context) error { return boom })
	require.Equal(t, "closed", b.State(), "single failure after a reset shouldn't trip threshold=2")
}
