package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"server/internal/adapter/memrepo"
	"server/internal/domain"
)

func TestApplyConfirmedPaymentIdempotent(t *testing.T) {
	ctx := context.Background()
	credits := memrepo.NewCreditRepository()
	l := New(credits)

	event := domain.PaymentEvent{EventID: "evt-1", OwnerIdentity: "user-1", Product: domain.ProductSingleExport}

	entry, err := l.ApplyConfirmedPayment(ctx, event)
	require.NoError(t, err)
	require.Equal(t, domain.CreditKindSingleUse, entry.Kind)
	require.Equal(t, 1, entry.RemainingCount)

	_, err = l.ApplyConfirmedPayment(ctx, event)
	require.ErrorIs(t, err, domain.ErrDuplicateEvent)

	entries, err := credits.ListByOwner(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestApplyConfirmedPaymentSubscription(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := New(memrepo.NewCreditRepository()).WithClock(func() time.Time { return now })

	entry, err := l.ApplyConfirmedPayment(ctx, domain.PaymentEvent{
		EventID: "evt-2", OwnerIdentity: "user-1", Product: domain.ProductCreatorMonth,
	})
	require.NoError(t, err)
	require.Equal(t, domain.CreditKindSubscriptionWindow, entry.Kind)
	require.NotNil(t, entry.ValidUntil)
	require.Equal(t, now.Add(30*24*time.Hour), *entry.ValidUntil)
}

func TestApplyConfirmedPaymentUnknownProduct(t *testing.T) {
	l := New(memrepo.NewCreditRepository())
	_, err := l.ApplyConfirmedPayment(context.Background(), domain.PaymentEvent{
		EventID: "evt-3", OwnerIdentity: "user-1", Product: "GOLD_TIER",
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCheckAndReserveConsumesSingleUse(t *testing.T) {
	ctx := context.Background()
	credits := memrepo.NewCreditRepository()
	l := New(credits)

	_, err := l.ApplyConfirmedPayment(ctx, domain.PaymentEvent{
		EventID: "evt-4", OwnerIdentity: "user-1", Product: domain.ProductSingleExport,
	})
	require.NoError(t, err)

	res, err := l.CheckAndReserve(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, res.Consumed)

	_, err = l.CheckAndReserve(ctx, "user-1")
	require.ErrorIs(t, err, domain.ErrInsufficientCredit)
}

func TestCheckAndReserveLastCreditNotSpentTwice(t *testing.T) {
	ctx := context.Background()
	credits := memrepo.NewCreditRepository()
	l := New(credits)

	_, err := l.ApplyConfirmedPayment(ctx, domain.PaymentEvent{
		EventID: "evt-5", OwnerIdentity: "user-1", Product: domain.ProductSingleExport,
	})
	require.NoError(t, err)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = l.CheckAndReserve(ctx, "user-1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, domain.ErrInsufficientCredit)
		}
	}
	require.Equal(t, 1, succeeded)
}

func TestCheckAndReserveSubscriptionDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	credits := memrepo.NewCreditRepository()
	l := New(credits).WithClock(func() time.Time { return now })

	_, err := l.ApplyConfirmedPayment(ctx, domain.PaymentEvent{
		EventID: "evt-6", OwnerIdentity: "user-1", Product: domain.ProductCreatorMonth,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := l.CheckAndReserve(ctx, "user-1")
		require.NoError(t, err)
		require.False(t, res.Consumed)
	}

	// Window closed: the subscription no longer authorizes.
	now = now.Add(31 * 24 * time.Hour)
	_, err = l.CheckAndReserve(ctx, "user-1")
	require.ErrorIs(t, err, domain.ErrInsufficientCredit)
}

func TestRefundIsIdempotentPerJob(t *testing.T) {
	ctx := context.Background()
	credits := memrepo.NewCreditRepository()
	l := New(credits)

	require.NoError(t, l.Refund(ctx, "user-1", "job-1"))
	require.NoError(t, l.Refund(ctx, "user-1", "job-1"))

	entries, err := credits.ListByOwner(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 1, entries[0].RemainingCount)
}

func TestHasDownloadAccess(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	credits := memrepo.NewCreditRepository()
	l := New(credits).WithClock(func() time.Time { return now })

	paid := &domain.Job{ID: "j1", OwnerIdentity: "user-1", CreditConsumed: true}
	preview := &domain.Job{ID: "j2", OwnerIdentity: "anonymous", Preview: true}
	subscribed := &domain.Job{ID: "j3", OwnerIdentity: "user-2"}

	ok, err := l.HasDownloadAccess(ctx, "user-1", paid)
	require.NoError(t, err)
	require.True(t, ok, "owner of a credit-paid job keeps access")

	ok, err = l.HasDownloadAccess(ctx, "user-2", paid)
	require.NoError(t, err)
	require.False(t, ok, "non-owner is rejected")

	ok, err = l.HasDownloadAccess(ctx, "", preview)
	require.NoError(t, err)
	require.True(t, ok, "previews are open to the id holder")

	ok, err = l.HasDownloadAccess(ctx, "user-2", subscribed)
	require.NoError(t, err)
	require.False(t, ok, "lapsed subscription loses access")

	_, err = l.ApplyConfirmedPayment(ctx, domain.PaymentEvent{
		EventID: "evt-7", OwnerIdentity: "user-2", Product: domain.ProductCreatorMonth,
	})
	require.NoError(t, err)

	ok, err = l.HasDownloadAccess(ctx, "user-2", subscribed)
	require.NoError(t, err)
	require.True(t, ok, "active subscription grants access")
}
