package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/ledger"
	"server/internal/optimizer"
	"server/internal/storage"
)

// Outcome tells the caller what to do with the broker claim after a
// processing attempt.
type Outcome int

const (
	// OutcomeDone means the job reached a terminal decision and the claim
	// should be completed.
	OutcomeDone Outcome = iota
	// OutcomeRetry means the job was requeued and the claim should be
	// released for redelivery.
	OutcomeRetry
)

// Processor runs one optimization attempt end to end: claim, resolve input,
// invoke the optimizer, persist the artifact, record the transition. It is
// shared by the queue worker and by the synchronous fallback used when no
// broker is configured.
type Processor struct {
	Jobs        domain.JobRepository
	Store       storage.Store
	Optimizer   optimizer.Invoker
	Ledger      *ledger.Ledger
	Logger      zerolog.Logger
	MaxAttempts int
	Retention   time.Duration

	Now func() time.Time
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Process handles one delivery of jobID.
func (p *Processor) Process(ctx context.Context, jobID string) (Outcome, error) {
	job, err := p.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return OutcomeDone, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.State.Terminal() || job.State == domain.JobStateCompleted {
		// Redelivered after a terminal decision; nothing left to do.
		return OutcomeDone, nil
	}
	if job.State == domain.JobStateProcessing {
		// A previous worker lost its lease mid-flight. Return the record to
		// queued so the claim below can take over.
		if err := p.Jobs.Requeue(ctx, jobID); err != nil && !errors.Is(err, domain.ErrStateConflict) {
			return OutcomeDone, fmt.Errorf("requeue stale job %s: %w", jobID, err)
		}
	}

	job, err = p.Jobs.Claim(ctx, jobID, p.MaxAttempts)
	if err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			return p.resolveUnclaimable(ctx, jobID)
		}
		return OutcomeDone, fmt.Errorf("claim job %s: %w", jobID, err)
	}

	return p.attempt(ctx, job)
}

// resolveUnclaimable decides what a refused claim means: retries exhausted
// (force the job to failed) or another worker already holds it (drop this
// delivery).
func (p *Processor) resolveUnclaimable(ctx context.Context, jobID string) (Outcome, error) {
	job, err := p.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return OutcomeDone, err
	}
	if job.State == domain.JobStateQueued && job.AttemptCount >= p.MaxAttempts {
		p.fail(ctx, job, domain.ErrMaxRetries.Error())
	}
	return OutcomeDone, nil
}

func (p *Processor) attempt(ctx context.Context, job *domain.Job) (Outcome, error) {
	workDir, err := os.MkdirTemp("", "optimize-"+job.ID)
	if err != nil {
		return p.retryOrFail(ctx, job, true, fmt.Sprintf("workspace unavailable: %v", err))
	}
	defer os.RemoveAll(workDir)

	input, err := p.Store.Get(ctx, job.InputRef)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			p.fail(ctx, job, "input object no longer in storage")
			return OutcomeDone, nil
		}
		return p.retryOrFail(ctx, job, true, fmt.Sprintf("fetch input: %v", err))
	}

	inputPath := filepath.Join(workDir, "input"+filepath.Ext(job.InputRef))
	outputPath := filepath.Join(workDir, "output.glb")
	if err := os.WriteFile(inputPath, input, 0o600); err != nil {
		return p.retryOrFail(ctx, job, true, fmt.Sprintf("stage input: %v", err))
	}

	result, err := p.Optimizer.Optimize(ctx, inputPath, outputPath, job.TargetTriangles)
	if err != nil {
		return p.retryOrFail(ctx, job, optimizer.IsTransient(err), err.Error())
	}

	artifact, err := os.ReadFile(outputPath)
	if err != nil {
		p.fail(ctx, job, fmt.Sprintf("optimizer produced no output: %v", err))
		return OutcomeDone, nil
	}

	outputRef, err := p.Store.Put(ctx, "outputs/"+job.ID+".glb", artifact)
	if err != nil {
		return p.retryOrFail(ctx, job, true, fmt.Sprintf("store artifact: %v", err))
	}

	expiresAt := p.now().Add(p.Retention)
	if err := p.Jobs.MarkCompleted(ctx, job.ID, outputRef, expiresAt, result.VertexCountBefore, result.VertexCountAfter); err != nil {
		return OutcomeDone, fmt.Errorf("record completion for job %s: %w", job.ID, err)
	}

	// The upload has served its purpose; only the artifact is retained.
	if err := p.Store.Delete(ctx, job.InputRef); err != nil && !errors.Is(err, storage.ErrNotFound) {
		p.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("worker: delete input object")
	}

	p.Logger.Info().
		Str("job_id", job.ID).
		Int("attempt", job.AttemptCount).
		Time("expires_at", expiresAt).
		Msg("worker: job completed")
	return OutcomeDone, nil
}

// retryOrFail requeues a transient failure while attempts remain, otherwise
// records a terminal failure.
func (p *Processor) retryOrFail(ctx context.Context, job *domain.Job, transient bool, detail string) (Outcome, error) {
	if transient && job.AttemptCount < p.MaxAttempts {
		if err := p.Jobs.Requeue(ctx, job.ID); err != nil {
			return OutcomeDone, fmt.Errorf("requeue job %s: %w", job.ID, err)
		}
		p.Logger.Warn().
			Str("job_id", job.ID).
			Int("attempt", job.AttemptCount).
			Str("detail", detail).
			Msg("worker: transient failure, requeued")
		return OutcomeRetry, nil
	}
	if transient {
		detail = domain.ErrMaxRetries.Error() + ": " + detail
	}
	p.fail(ctx, job, detail)
	return OutcomeDone, nil
}

// fail records the terminal failure, refunds a consumed credit and releases
// the input object. Cleanup steps are best-effort; the state transition is
// authoritative.
func (p *Processor) fail(ctx context.Context, job *domain.Job, detail string) {
	if err := p.Jobs.MarkFailed(ctx, job.ID, detail); err != nil {
		p.Logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: record failure")
		return
	}
	p.Logger.Warn().Str("job_id", job.ID).Str("detail", detail).Msg("worker: job failed")

	if job.CreditConsumed && p.Ledger != nil {
		if err := p.Ledger.Refund(ctx, job.OwnerIdentity, job.ID); err != nil {
			p.Logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: refund credit")
		}
	}
	if err := p.Store.Delete(ctx, job.InputRef); err != nil {
		p.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("worker: delete failed job input")
	}
}
