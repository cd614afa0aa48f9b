package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/ledger"
	"server/internal/queue"
	"server/internal/storage"
	"server/internal/worker"
)

// PreviewIdentity owns unauthenticated preview jobs.
const PreviewIdentity = "anonymous"

var allowedExtensions = map[string]bool{
	".glb":  true,
	".gltf": true,
	".fbx":  true,
}

// Options configures a JobService.
type Options struct {
	Jobs   domain.JobRepository
	Ledger *ledger.Ledger
	Store  storage.Store
	// Queue may be nil: without a broker the service degrades to running the
	// optimizer synchronously via Processor before returning.
	Queue     queue.Queue
	Processor *worker.Processor
	Logger    zerolog.Logger

	LinkTTL              time.Duration
	DefaultPreviewTarget int
	MinTargetTriangles   int
	MaxTargetTriangles   int
}

// JobService exposes the operations the API layer composes: job creation,
// status snapshots and download link issuance.
type JobService struct {
	opts Options
	now  func() time.Time
}

// New creates a JobService.
func New(opts Options) *JobService {
	if opts.LinkTTL <= 0 {
		opts.LinkTTL = time.Hour
	}
	if opts.DefaultPreviewTarget <= 0 {
		opts.DefaultPreviewTarget = 10000
	}
	if opts.MinTargetTriangles <= 0 {
		opts.MinTargetTriangles = 1000
	}
	if opts.MaxTargetTriangles <= 0 {
		opts.MaxTargetTriangles = 100000
	}
	return &JobService{opts: opts, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *JobService) WithClock(now func() time.Time) *JobService {
	s.now = now
	return s
}

// CreateJob authorizes the identity against the credit ledger, stores the
// upload and hands the job to the orchestrator. On enqueue failure the job
// stays pending, any consumed credit is returned and the caller may retry.
func (s *JobService) CreateJob(ctx context.Context, identity string, input []byte, filename string, targetTriangles int) (*domain.Job, error) {
	if targetTriangles < s.opts.MinTargetTriangles || targetTriangles > s.opts.MaxTargetTriangles {
		return nil, fmt.Errorf("%w: target triangles must be between %d and %d",
			domain.ErrInvalidInput, s.opts.MinTargetTriangles, s.opts.MaxTargetTriangles)
	}
	ext, err := validateExtension(filename)
	if err != nil {
		return nil, err
	}

	reservation, err := s.opts.Ledger.CheckAndReserve(ctx, identity)
	if err != nil {
		return nil, err
	}

	job, err := s.createAndDispatch(ctx, identity, input, ext, targetTriangles, false, reservation.Consumed)
	if err != nil && reservation.Consumed {
		if refundErr := s.opts.Ledger.Refund(ctx, identity, refundKeyForFailedCreate(job)); refundErr != nil {
			s.opts.Logger.Error().Err(refundErr).Str("identity", identity).Msg("service: refund after create failure")
		}
	}
	return job, err
}

// CreatePreview creates an unauthenticated, zero-cost preview job with the
// default reduction target. Previews ride the normal lifecycle and expire on
// the same clock as paid jobs.
func (s *JobService) CreatePreview(ctx context.Context, input []byte, filename string) (*domain.Job, error) {
	ext, err := validateExtension(filename)
	if err != nil {
		return nil, err
	}
	return s.createAndDispatch(ctx, PreviewIdentity, input, ext, s.opts.DefaultPreviewTarget, true, false)
}

func (s *JobService) createAndDispatch(ctx context.Context, identity string, input []byte, ext string, target int, preview, consumed bool) (*domain.Job, error) {
	job := &domain.Job{
		ID:              uuid.NewString(),
		OwnerIdentity:   identity,
		State:           domain.JobStatePending,
		TargetTriangles: target,
		Preview:         preview,
		CreditConsumed:  consumed,
		CreatedAt:       s.now(),
	}

	locator, err := s.opts.Store.Put(ctx, "uploads/"+job.ID+ext, input)
	if err != nil {
		return nil, fmt.Errorf("service: store upload: %w", err)
	}
	job.InputRef = locator

	if err := s.opts.Jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("service: create job: %w", err)
	}

	if s.opts.Queue == nil {
		return job, s.runSynchronously(ctx, job)
	}

	if err := s.opts.Queue.Enqueue(ctx, job.ID); err != nil {
		s.opts.Logger.Error().Err(err).Str("job_id", job.ID).Msg("service: enqueue failed")
		return job, fmt.Errorf("%w: job %s not dispatched", domain.ErrQueueUnavailable, job.ID)
	}
	if err := s.opts.Jobs.MarkQueued(ctx, job.ID); err != nil {
		return job, fmt.Errorf("service: mark queued: %w", err)
	}
	job.State = domain.JobStateQueued
	return job, nil
}

// runSynchronously drives the job to a terminal decision in-process. API
// behavior stays consistent without a broker; only latency differs.
func (s *JobService) runSynchronously(ctx context.Context, job *domain.Job) error {
	if s.opts.Processor == nil {
		return fmt.Errorf("%w: no broker and no in-process runner", domain.ErrQueueUnavailable)
	}
	if err := s.opts.Jobs.MarkQueued(ctx, job.ID); err != nil {
		return fmt.Errorf("service: mark queued: %w", err)
	}
	for {
		outcome, err := s.opts.Processor.Process(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("service: synchronous processing: %w", err)
		}
		if outcome != worker.OutcomeRetry {
			break
		}
	}
	refreshed, err := s.opts.Jobs.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	*job = *refreshed
	return nil
}

// GetJobStatus returns a snapshot of the job record.
func (s *JobService) GetJobStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.opts.Jobs.GetByID(ctx, jobID)
}

// GetDownloadLink re-validates entitlement and expiry, then issues a
// time-limited link to the artifact. The link never outlives the job's
// retention deadline.
func (s *JobService) GetDownloadLink(ctx context.Context, identity, jobID string) (string, error) {
	job, err := s.opts.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}

	allowed, err := s.opts.Ledger.HasDownloadAccess(ctx, identity, job)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", domain.ErrForbidden
	}

	now := s.now()
	switch {
	case job.State == domain.JobStateExpired:
		return "", domain.ErrExpired
	case job.State != domain.JobStateCompleted || job.OutputRef == nil:
		return "", domain.ErrNotFound
	case !job.Downloadable(now):
		return "", domain.ErrExpired
	}

	ttl := s.opts.LinkTTL
	if job.ExpiresAt != nil {
		if remaining := job.ExpiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}
	link, err := s.opts.Store.LinkFor(ctx, *job.OutputRef, ttl)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("service: issue link: %w", err)
	}
	return link, nil
}

func validateExtension(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("%w: unsupported file type %q", domain.ErrInvalidInput, ext)
	}
	return ext, nil
}

// refundKeyForFailedCreate keys the refund on the job when one was created,
// or on a fresh id when creation failed before a record existed.
func refundKeyForFailedCreate(job *domain.Job) string {
	if job != nil {
		return job.ID
	}
	return "create:" + uuid.NewString()
}
