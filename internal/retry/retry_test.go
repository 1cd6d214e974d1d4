package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/medialibrarian/curator/internal/apperr"
)

func TestDo_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{
		InitialDelay: time.Millisecond,
		MaxAttempts:  3,
		Classify:     apperr.IsRetryable,
	}, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return apperr.New(apperr.Network, errors.New("transient"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestDo_NonRetryableSurfacesImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{
		InitialDelay: time.Millisecond,
		MaxAttempts:  5,
		Classify:     apperr.IsRetryable,
	}, func(ctx context.Context) error {
		calls++
		return apperr.New(apperr.Validation, errors.New("bad input"))
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{
		InitialDelay: time.Millisecond,
		MaxAttempts:  3,
		Classify:     apperr.IsRetryable,
	}, func(ctx context.Context) error {
		calls++
		return apperr.New(apperr.Network, errors.New("down"))
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}
