package memrepo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"server/internal/domain"
)

func seedQueuedJob(t *testing.T, repo *JobRepository, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &domain.Job{
		ID:              id,
		OwnerIdentity:   "user-1",
		State:           domain.JobStatePending,
		InputRef:        "uploads/" + id + ".glb",
		TargetTriangles: 500,
		CreatedAt:       time.Now(),
	}))
	require.NoError(t, repo.MarkQueued(ctx, id))
}

func TestClaimIsExclusiveUnderContention(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()
	seedQueuedJob(t, repo, "job-1")

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.Claim(ctx, "job-1", 3)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, domain.ErrStateConflict):
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	require.Equal(t, 1, won, "exactly one concurrent claim may succeed")

	job, err := repo.GetByID(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, domain.JobStateProcessing, job.State)
	require.Equal(t, 1, job.AttemptCount)
}

func TestClaimRefusedAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()
	seedQueuedJob(t, repo, "job-1")

	for i := 0; i < 3; i++ {
		_, err := repo.Claim(ctx, "job-1", 3)
		require.NoError(t, err)
		require.NoError(t, repo.Requeue(ctx, "job-1"))
	}

	_, err := repo.Claim(ctx, "job-1", 3)
	require.ErrorIs(t, err, domain.ErrStateConflict)
}
