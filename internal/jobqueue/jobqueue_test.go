package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/medialibrarian/curator/internal/eventbus"
	"github.com/medialibrarian/curator/internal/jobstore"
	"github.com/medialibrarian/curator/internal/model"
)

func TestService_RunsRegisteredHandlerToCompletion(t *testing.T) {
	store := jobstore.NewMemStore()
	bus := eventbus.New()
	events, cancel := bus.Subscribe(eventbus.TopicJobStateChange)
	defer cancel()

	svc := New(store, bus, Config{Workers: 1, PollInterval: 10 * time.Millisecond})

	var ran int32
	svc.Register(model.JobScanLibrary, func(ctx context.Context, job model.Job) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	id, err := store.Enqueue(context.Background(), model.Job{Type: model.JobScanLibrary, Priority: model.PriorityNormal})
	require.NoError(t, err)

	ctx, stop := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer stop()
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	select {
	case evt := <-events:
		se := evt.Payload.(JobStateEvent)
		require.Equal(t, id, se.JobID)
		require.Equal(t, "completed", se.State)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion event")
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&ran))
	stop()
	<-done
}

func TestService_NoHandlerAbandonsJob(t *testing.T) {
	store := jobstore.NewMemStore()
	svc := New(store, nil, Config{Workers: 1, PollInterval: 10 * time.Millisecond})

	id, err := store.Enqueue(context.Background(), model.Job{Type: model.JobPublish, Priority: model.PriorityNormal})
	require.NoError(t, err)

	ctx, stop := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer stop()
	svc.Run(ctx)

	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Nil(t, job, "abandoned job should no longer be active")
}

func TestService_HandlerErrorRetriesViaStore(t *testing.T) {
	store := jobstore.NewMemStore()
	svc := New(store, nil, Config{Workers: 1, PollInterval: 5 * time.Millisecond})

	var attempts int32
	svc.Register(model.JobCacheAsset, func(ctx context.Context, job model.Job) error {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			return errors.New("transient failure")
		}
		return nil
	})

	_, err := store.Enqueue(context.Background(), model.Job{Type: model.JobCacheAsset, Priority: model.PriorityNormal, MaxRetries: 2})
	require.NoError(t, err)

	ctx, stop := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer stop()
	svc.Run(ctx)

	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()
	require.Equal(t, 5, cfg.Workers)
	require.Equal(t, time.Second, cfg.PollInterval)
	require.Equal(t, 5*time.Minute, cfg.DefaultTimeout)
	require.Equal(t, uint32(5), cfg.MaxConsecutiveFailures)
	require.Equal(t, time.Minute, cfg.CircuitResetDelay)
}

func TestConfig_TimeoutForUsesPerTypeOverride(t *testing.T) {
	cfg := Config{TypeTimeouts: map[model.JobType]time.Duration{
		model.JobEnrichMetadata: 2 * time.Second,
	}}
	cfg.setDefaults()
	require.Equal(t, 2*time.Second, cfg.timeoutFor(model.JobEnrichMetadata))
	require.Equal(t, cfg.DefaultTimeout, cfg.timeoutFor(model.JobScanLibrary))
}
