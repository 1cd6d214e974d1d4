package jobstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/medialibrarian/curator/internal/model"
	"github.com/medialibrarian/curator/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db)
}

// S1: seed 5 pending jobs, spawn 10 concurrent PickNext callers. Expect 5
// distinct non-nil results, 5 nils, all 5 jobs move to processing with a
// non-null started_at, and zero pending remain.
func TestPickNext_AtomicClaimUnderContention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Enqueue(ctx, model.Job{Type: model.JobScanLibrary, Priority: model.PriorityNormal})
		require.NoError(t, err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []*model.Job
		nils    int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := s.PickNext(ctx)
			require.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if job == nil {
				nils++
				return
			}
			claimed = append(claimed, job)
		}()
	}
	wg.Wait()

	require.Len(t, claimed, 5)
	require.Equal(t, 5, nils)

	seen := make(map[int64]bool)
	for _, j := range claimed {
		require.False(t, seen[j.ID], "job %d claimed twice", j.ID)
		seen[j.ID] = true
		require.Equal(t, model.JobProcessing, j.Status)
		require.NotNil(t, j.StartedAt)
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Pending)
	require.Equal(t, 5, stats.Processing)
}

// S2: jobs inserted at priorities 8, 5, 3, 1 come back out 1, 3, 5, 8.
func TestPickNext_PriorityOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	order := []int{8, 5, 3, 1}
	ids := make(map[int]int64)
	for _, p := range order {
		id, err := s.Enqueue(ctx, model.Job{Type: model.JobEnrichMetadata, Priority: p})
		require.NoError(t, err)
		ids[p] = id
	}

	for _, want := range []int{1, 3, 5, 8} {
		job, err := s.PickNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		require.Equal(t, want, job.Priority)
		require.Equal(t, ids[want], job.ID)
	}

	job, err := s.PickNext(ctx)
	require.NoError(t, err)
	require.Nil(t, job)
}

// S3: a job with max_retries=3 fails once with a retryable error, then
// succeeds. The failed attempt's error is recorded on the job while it waits
// for its retry, the retry runs with retry_count=1, and Complete removes the
// job from the active queue.
func TestFailThenComplete_RecordsRetryAndSucceeds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, model.Job{Type: model.JobCacheAsset, Priority: model.PriorityNormal, MaxRetries: 3})
	require.NoError(t, err)

	job, err := s.PickNext(ctx)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)

	require.NoError(t, s.Fail(ctx, id, "temporary network error"))

	reFetched, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, reFetched)
	require.Equal(t, model.JobPending, reFetched.Status)
	require.Equal(t, 1, reFetched.RetryCount)
	require.Equal(t, "temporary network error", reFetched.LastError)
	require.Nil(t, reFetched.StartedAt)

	job2, err := s.PickNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job2)
	require.Equal(t, id, job2.ID)
	require.Equal(t, 1, job2.RetryCount)

	require.NoError(t, s.Complete(ctx, id))

	gone, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Nil(t, gone)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.TotalActive)
}

func TestFail_ExhaustsRetriesAndArchivesAsFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, model.Job{Type: model.JobCacheAsset, Priority: model.PriorityNormal, MaxRetries: 1})
	require.NoError(t, err)

	_, err = s.PickNext(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, id, "first failure"))

	job, err := s.PickNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, s.Fail(ctx, id, "second failure"))

	active, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Nil(t, active)
}

func TestResetStalledJobs_ReturnsProcessingToPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, model.Job{Type: model.JobScanLibrary, Priority: model.PriorityNormal})
	require.NoError(t, err)
	_, err = s.PickNext(ctx)
	require.NoError(t, err)

	n, err := s.ResetStalledJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	job, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.JobPending, job.Status)
	require.Nil(t, job.StartedAt)
}

func TestCleanupHistory_RespectsPerOutcomeRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	realNow := now
	t.Cleanup(func() { now = realNow })

	fixedTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now = func() time.Time { return fixedTime }

	id1, err := s.Enqueue(ctx, model.Job{Type: model.JobScanLibrary, Priority: model.PriorityNormal})
	require.NoError(t, err)
	_, err = s.PickNext(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, id1))

	id2, err := s.Enqueue(ctx, model.Job{Type: model.JobScanLibrary, Priority: model.PriorityNormal, MaxRetries: 0})
	require.NoError(t, err)
	_, err = s.PickNext(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Abandon(ctx, id2, "fatal"))

	now = func() time.Time { return fixedTime.AddDate(0, 0, 10) }

	n, err := s.CleanupHistory(ctx, HistoryCleanupSpec{CompletedDays: 7, FailedDays: 30})
	require.NoError(t, err)
	require.Equal(t, 1, n, "only the completed row should have aged out at day 10")
}

func TestList_FiltersByStatusAndType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Enqueue(ctx, model.Job{Type: model.JobScanLibrary, Priority: model.PriorityNormal})
		require.NoError(t, err)
	}
	_, err := s.Enqueue(ctx, model.Job{Type: model.JobCacheAsset, Priority: model.PriorityNormal})
	require.NoError(t, err)

	scanJobs, err := s.List(ctx, ListFilter{Type: model.JobScanLibrary})
	require.NoError(t, err)
	require.Len(t, scanJobs, 3)

	_, err = s.PickNext(ctx)
	require.NoError(t, err)

	pending, err := s.List(ctx, ListFilter{Status: model.JobPending})
	require.NoError(t, err)
	require.Len(t, pending, 3)

	limited, err := s.List(ctx, ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestEnqueue_DefaultsMaxRetries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, model.Job{Type: model.JobScanLibrary, Priority: model.PriorityNormal})
	require.NoError(t, err)

	job, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 3, job.MaxRetries)
}

func TestPickNext_EmptyQueueReturnsNil(t *testing.T) {
	s := newTestStore(t)
	job, err := s.PickNext(context.Background())
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestFail_UnknownJobReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.Fail(context.Background(), 9999, "whatever")
	require.Error(t, err)
	require.Contains(t, fmt.Sprint(err), "not found")
}
