package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"server/internal/queue"
)

const dequeueRetryDelay = 2 * time.Second

// Worker pulls claims from the broker and runs them through the Processor.
// Multiple workers may run against the same broker; the repository claim and
// the broker lease together keep each job on a single worker.
type Worker struct {
	Queue          queue.Queue
	Processor      *Processor
	Logger         zerolog.Logger
	LeaseHeartbeat time.Duration
}

// Run processes jobs until ctx is cancelled. An in-flight job is driven to a
// decision before returning: processing continues on a detached context so
// shutdown never drops a claim silently.
func (w *Worker) Run(ctx context.Context) error {
	w.Logger.Info().Msg("worker: started")
	for {
		jobID, err := w.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.Logger.Error().Err(err).Msg("worker: dequeue failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(dequeueRetryDelay):
			}
			continue
		}
		w.handle(context.WithoutCancel(ctx), jobID)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (w *Worker) handle(ctx context.Context, jobID string) {
	stopHeartbeat := w.startHeartbeat(ctx, jobID)
	outcome, err := w.Processor.Process(ctx, jobID)
	stopHeartbeat()
	if err != nil {
		w.Logger.Error().Err(err).Str("job_id", jobID).Msg("worker: processing error")
	}

	switch outcome {
	case OutcomeRetry:
		if err := w.Queue.ReleaseLease(ctx, jobID); err != nil {
			w.Logger.Error().Err(err).Str("job_id", jobID).Msg("worker: release lease")
		}
	default:
		if err := w.Queue.Complete(ctx, jobID); err != nil {
			w.Logger.Error().Err(err).Str("job_id", jobID).Msg("worker: complete claim")
		}
	}
}

// startHeartbeat renews the broker lease while the job is being processed.
func (w *Worker) startHeartbeat(ctx context.Context, jobID string) func() {
	interval := w.LeaseHeartbeat
	if interval <= 0 {
		interval = 15 * time.Second
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := w.Queue.RenewLease(ctx, jobID); err != nil && !errors.Is(err, context.Canceled) {
					w.Logger.Warn().Err(err).Str("job_id", jobID).Msg("worker: renew lease")
				}
			}
		}
	}()
	return func() { close(done) }
}
