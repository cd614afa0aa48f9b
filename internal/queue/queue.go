package queue

import "context"

// Queue is the broker contract for job hand-off. Implementations must be
// durable across process restarts and must guarantee at-most-one outstanding
// claim per job while a lease is live.
type Queue interface {
	// Enqueue hands a job id to the broker. Failures surface as
	// domain.ErrQueueUnavailable so the caller can retry creation.
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue blocks until a job id is claimed or ctx is cancelled. The claim
	// carries a lease; a worker that neither completes nor renews within the
	// lease duration loses the claim and the job is redelivered.
	Dequeue(ctx context.Context) (string, error)
	// RenewLease extends the caller's claim on the job.
	RenewLease(ctx context.Context, jobID string) error
	// ReleaseLease abandons the claim and makes the job deliverable again.
	ReleaseLease(ctx context.Context, jobID string) error
	// Complete finalizes the claim and removes the job from the broker.
	Complete(ctx context.Context, jobID string) error
}
