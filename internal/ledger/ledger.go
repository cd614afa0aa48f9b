package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
)

// Reservation records the outcome of a successful credit check. Consumed is
// true when a single-use credit was decremented; subscription access is
// non-consuming.
type Reservation struct {
	Consumed bool
}

// Ledger enforces entitlements over a credit repository. All atomicity lives
// in the repository; the ledger adds policy: subscriptions are preferred over
// single-use credits, refunds are idempotent per job.
type Ledger struct {
	credits domain.CreditRepository
	now     func() time.Time
}

// New creates a ledger over the given repository.
func New(credits domain.CreditRepository) *Ledger {
	return &Ledger{credits: credits, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// CheckAndReserve verifies the identity holds a usable entitlement and, for
// single-use credits, consumes one. An active subscription window authorizes
// without consuming anything.
func (l *Ledger) CheckAndReserve(ctx context.Context, identity string) (*Reservation, error) {
	active, err := l.credits.HasActiveSubscription(ctx, identity, l.now())
	if err != nil {
		return nil, fmt.Errorf("ledger: subscription check: %w", err)
	}
	if active {
		return &Reservation{Consumed: false}, nil
	}
	consumed, err := l.credits.ReserveSingleUse(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("ledger: reserve credit: %w", err)
	}
	if !consumed {
		return nil, domain.ErrInsufficientCredit
	}
	return &Reservation{Consumed: true}, nil
}

// ApplyConfirmedPayment mints the entry a confirmed payment entitles the
// identity to. Ingestion is idempotent on the event id; a replay returns
// domain.ErrDuplicateEvent and mints nothing.
func (l *Ledger) ApplyConfirmedPayment(ctx context.Context, event domain.PaymentEvent) (*domain.CreditEntry, error) {
	entry := &domain.CreditEntry{
		ID:            uuid.NewString(),
		OwnerIdentity: event.OwnerIdentity,
		SourceEventID: event.EventID,
		CreatedAt:     l.now(),
	}
	switch event.Product {
	case domain.ProductSingleExport:
		entry.Kind = domain.CreditKindSingleUse
		entry.RemainingCount = 1
	case domain.ProductCreatorMonth:
		entry.Kind = domain.CreditKindSubscriptionWindow
		until := l.now().Add(30 * 24 * time.Hour)
		entry.ValidUntil = &until
	default:
		return nil, fmt.Errorf("%w: unknown product %q", domain.ErrInvalidInput, event.Product)
	}

	inserted, err := l.credits.InsertEntry(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("ledger: insert entry: %w", err)
	}
	if !inserted {
		return nil, domain.ErrDuplicateEvent
	}
	return entry, nil
}

// Refund returns the single-use credit consumed by a job that terminally
// failed. The minted entry is keyed by the job id, so a crashed-and-retried
// refund cannot double-credit the identity.
func (l *Ledger) Refund(ctx context.Context, identity, jobID string) error {
	entry := &domain.CreditEntry{
		ID:             uuid.NewString(),
		OwnerIdentity:  identity,
		Kind:           domain.CreditKindSingleUse,
		RemainingCount: 1,
		SourceEventID:  "refund:" + jobID,
		CreatedAt:      l.now(),
	}
	if _, err := l.credits.InsertEntry(ctx, entry); err != nil {
		return fmt.Errorf("ledger: refund: %w", err)
	}
	return nil
}

// HasDownloadAccess re-validates entitlement at download time. Previews are
// anonymous and open to whoever holds the job id. Paid jobs require
// ownership; a job paid with a consumed credit stays downloadable, while a
// subscription-backed job requires the window to still be open.
func (l *Ledger) HasDownloadAccess(ctx context.Context, identity string, job *domain.Job) (bool, error) {
	if job.Preview {
		return true, nil
	}
	if job.OwnerIdentity != identity {
		return false, nil
	}
	if job.CreditConsumed {
		return true, nil
	}
	return l.credits.HasActiveSubscription(ctx, identity, l.now())
}
