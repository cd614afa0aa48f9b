package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job records. Transition methods are
// compare-and-set operations: they succeed only from the expected source
// state and return ErrStateConflict otherwise, which is what guarantees
// at-most-one active claim per job across workers.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	GetByOutputRef(ctx context.Context, locator string) (*Job, error)

	// MarkQueued transitions pending -> queued.
	MarkQueued(ctx context.Context, jobID string) error
	// Claim transitions queued -> processing, increments attempt_count and
	// returns the claimed job. The claim is refused once attempt_count has
	// reached maxAttempts.
	Claim(ctx context.Context, jobID string, maxAttempts int) (*Job, error)
	// Requeue transitions processing -> queued, used on transient failure and
	// on lease-expired redelivery.
	Requeue(ctx context.Context, jobID string) error
	// MarkCompleted transitions processing -> completed and records the
	// artifact locator, expiry deadline and vertex counts.
	MarkCompleted(ctx context.Context, jobID, outputRef string, expiresAt time.Time, vertexBefore, vertexAfter *int) error
	// MarkFailed transitions queued|processing -> failed with a bounded detail.
	MarkFailed(ctx context.Context, jobID, detail string) error
	// MarkExpired transitions completed -> expired, clears output_ref and
	// parks the locator in cleanup_ref until storage deletion succeeds.
	MarkExpired(ctx context.Context, jobID string) error
	// ClearCleanup removes cleanup_ref after the artifact has been deleted.
	ClearCleanup(ctx context.Context, jobID string) error

	// ListExpirable returns completed jobs whose expires_at has passed.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]Job, error)
	// ListPendingCleanup returns expired jobs whose artifact deletion is
	// still outstanding.
	ListPendingCleanup(ctx context.Context, limit int) ([]Job, error)
}

// CreditRepository defines persistence for the credit ledger.
type CreditRepository interface {
	// InsertEntry inserts an entry keyed by source_event_id. It reports false
	// without error when the event was already applied.
	InsertEntry(ctx context.Context, entry *CreditEntry) (bool, error)
	// ReserveSingleUse atomically decrements one usable single-use credit for
	// the identity. It reports whether a credit was consumed.
	ReserveSingleUse(ctx context.Context, identity string) (bool, error)
	// HasActiveSubscription reports whether the identity holds a subscription
	// window covering the given instant.
	HasActiveSubscription(ctx context.Context, identity string, now time.Time) (bool, error)
	ListByOwner(ctx context.Context, identity string) ([]CreditEntry, error)
}
