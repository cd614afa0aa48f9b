package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"server/internal/adapter/memrepo"
	"server/internal/domain"
	"server/internal/storage"
)

// countingStore wraps a Store and records deletions, optionally failing them.
type countingStore struct {
	storage.Store
	mu      sync.Mutex
	deletes map[string]int
	failing bool
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	inner, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return &countingStore{Store: inner, deletes: make(map[string]int)}
}

func (s *countingStore) Delete(ctx context.Context, locator string) error {
	s.mu.Lock()
	s.deletes[locator]++
	failing := s.failing
	s.mu.Unlock()
	if failing {
		return errors.New("storage backend unreachable")
	}
	return s.Store.Delete(ctx, locator)
}

func (s *countingStore) deleteCount(locator string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes[locator]
}

type sweeperEnv struct {
	jobs  *memrepo.JobRepository
	store *countingStore
	sw    *Sweeper
	now   time.Time
}

func newSweeperEnv(t *testing.T) *sweeperEnv {
	t.Helper()
	env := &sweeperEnv{
		jobs:  memrepo.NewJobRepository(),
		store: newCountingStore(t),
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	env.sw = &Sweeper{
		Jobs:   env.jobs,
		Store:  env.store,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return env.now },
	}
	return env
}

// seedCompleted creates a completed job whose artifact expires at the given
// instant.
func (e *sweeperEnv) seedCompleted(t *testing.T, id string, expiresAt time.Time) string {
	t.Helper()
	ctx := context.Background()
	locator, err := e.store.Put(ctx, "outputs/"+id+".glb", []byte("artifact"))
	require.NoError(t, err)

	job := &domain.Job{
		ID:            id,
		OwnerIdentity: "user-1",
		State:         domain.JobStatePending,
		InputRef:      "uploads/" + id + ".glb",
		CreatedAt:     e.now.Add(-24 * time.Hour),
	}
	require.NoError(t, e.jobs.Create(ctx, job))
	require.NoError(t, e.jobs.MarkQueued(ctx, id))
	_, err = e.jobs.Claim(ctx, id, 3)
	require.NoError(t, err)
	require.NoError(t, e.jobs.MarkCompleted(ctx, id, locator, expiresAt, nil, nil))
	return locator
}

func TestSweepOnceExpiresAndDeletes(t *testing.T) {
	ctx := context.Background()
	env := newSweeperEnv(t)
	locator := env.seedCompleted(t, "job-1", env.now.Add(-time.Minute))

	expired, err := env.sw.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	job, err := env.jobs.GetByID(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, domain.JobStateExpired, job.State)
	require.Nil(t, job.OutputRef)
	require.Nil(t, job.CleanupRef)
	require.NoError(t, job.Validate())

	require.Equal(t, 1, env.store.deleteCount(locator))
	_, err = env.store.Get(ctx, locator)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSweepOnceLeavesUnexpiredJobs(t *testing.T) {
	ctx := context.Background()
	env := newSweeperEnv(t)
	env.seedCompleted(t, "job-1", env.now.Add(time.Hour))

	expired, err := env.sw.SweepOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, expired)

	job, err := env.jobs.GetByID(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, domain.JobStateCompleted, job.State)
}

func TestSweepRetriesFailedDeletion(t *testing.T) {
	ctx := context.Background()
	env := newSweeperEnv(t)
	locator := env.seedCompleted(t, "job-1", env.now.Add(-time.Minute))

	// First sweep: transition succeeds, deletion fails.
	env.store.failing = true
	expired, err := env.sw.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	job, err := env.jobs.GetByID(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, domain.JobStateExpired, job.State)
	require.NotNil(t, job.CleanupRef, "failed deletion must stay scheduled")

	// Second sweep: storage is back, the leftover artifact goes away.
	env.store.failing = false
	_, err = env.sw.SweepOnce(ctx)
	require.NoError(t, err)

	job, err = env.jobs.GetByID(ctx, "job-1")
	require.NoError(t, err)
	require.Nil(t, job.CleanupRef)
	require.Equal(t, 2, env.store.deleteCount(locator))
}

func TestSweepOnceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newSweeperEnv(t)
	locator := env.seedCompleted(t, "job-1", env.now.Add(-time.Minute))

	_, err := env.sw.SweepOnce(ctx)
	require.NoError(t, err)
	_, err = env.sw.SweepOnce(ctx)
	require.NoError(t, err)

	require.Equal(t, 1, env.store.deleteCount(locator), "artifact deleted exactly once")
}

func TestRunStopsOnCancel(t *testing.T) {
	env := newSweeperEnv(t)
	env.sw.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.sw.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
