package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"server/internal/domain"
)

// JobRepository is an in-memory domain.JobRepository with the same
// compare-and-set transition semantics as the PostgreSQL implementation. It
// backs tests and local experiments that do not want a database.
type JobRepository struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

// NewJobRepository creates an empty in-memory job repository.
func NewJobRepository() *JobRepository {
	return &JobRepository{jobs: make(map[string]*domain.Job)}
}

func (r *JobRepository) Create(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *JobRepository) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (r *JobRepository) GetByOutputRef(_ context.Context, locator string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.OutputRef != nil && *job.OutputRef == locator {
			clone := *job
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *JobRepository) MarkQueued(_ context.Context, jobID string) error {
	return r.mutate(jobID, func(job *domain.Job) error {
		if job.State != domain.JobStatePending {
			return domain.ErrStateConflict
		}
		job.State = domain.JobStateQueued
		return nil
	})
}

func (r *JobRepository) Claim(_ context.Context, jobID string, maxAttempts int) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.State != domain.JobStateQueued || job.AttemptCount >= maxAttempts {
		return nil, domain.ErrStateConflict
	}
	job.State = domain.JobStateProcessing
	job.AttemptCount++
	now := time.Now()
	job.StartedAt = &now
	clone := *job
	return &clone, nil
}

func (r *JobRepository) Requeue(_ context.Context, jobID string) error {
	return r.mutate(jobID, func(job *domain.Job) error {
		if job.State != domain.JobStateProcessing {
			return domain.ErrStateConflict
		}
		job.State = domain.JobStateQueued
		job.StartedAt = nil
		return nil
	})
}

func (r *JobRepository) MarkCompleted(_ context.Context, jobID, outputRef string, expiresAt time.Time, vertexBefore, vertexAfter *int) error {
	return r.mutate(jobID, func(job *domain.Job) error {
		if job.State != domain.JobStateProcessing {
			return domain.ErrStateConflict
		}
		now := time.Now()
		job.State = domain.JobStateCompleted
		job.OutputRef = &outputRef
		job.ExpiresAt = &expiresAt
		job.CompletedAt = &now
		if vertexBefore != nil {
			job.VertexCountBefore = vertexBefore
		}
		if vertexAfter != nil {
			job.VertexCountAfter = vertexAfter
		}
		return nil
	})
}

func (r *JobRepository) MarkFailed(_ context.Context, jobID, detail string) error {
	return r.mutate(jobID, func(job *domain.Job) error {
		if job.State != domain.JobStateQueued && job.State != domain.JobStateProcessing {
			return domain.ErrStateConflict
		}
		now := time.Now()
		job.State = domain.JobStateFailed
		job.ErrorDetail = detail
		job.CompletedAt = &now
		return nil
	})
}

func (r *JobRepository) MarkExpired(_ context.Context, jobID string) error {
	return r.mutate(jobID, func(job *domain.Job) error {
		if job.State != domain.JobStateCompleted {
			return domain.ErrStateConflict
		}
		job.State = domain.JobStateExpired
		job.CleanupRef = job.OutputRef
		job.OutputRef = nil
		return nil
	})
}

func (r *JobRepository) ClearCleanup(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[jobID]; ok {
		job.CleanupRef = nil
	}
	return nil
}

func (r *JobRepository) ListExpirable(_ context.Context, now time.Time, limit int) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Job
	for _, job := range r.jobs {
		if job.State == domain.JobStateCompleted && job.ExpiresAt != nil && !job.ExpiresAt.After(now) {
			items = append(items, *job)
		}
	}
	sortByExpiry(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *JobRepository) ListPendingCleanup(_ context.Context, limit int) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Job
	for _, job := range r.jobs {
		if job.State == domain.JobStateExpired && job.CleanupRef != nil {
			items = append(items, *job)
		}
	}
	sortByExpiry(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *JobRepository) mutate(jobID string, fn func(*domain.Job) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	return fn(job)
}

func sortByExpiry(items []domain.Job) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].ExpiresAt, items[j].ExpiresAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
}
