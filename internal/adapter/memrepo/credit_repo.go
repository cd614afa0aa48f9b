package memrepo

import (
	"context"
	"sync"
	"time"

	"server/internal/domain"
)

// CreditRepository is an in-memory domain.CreditRepository. A single mutex
// serializes reservations, matching the row-lock semantics of the PostgreSQL
// implementation.
type CreditRepository struct {
	mu      sync.Mutex
	entries []*domain.CreditEntry
	byEvent map[string]*domain.CreditEntry
}

// NewCreditRepository creates an empty in-memory credit repository.
func NewCreditRepository() *CreditRepository {
	return &CreditRepository{byEvent: make(map[string]*domain.CreditEntry)}
}

func (r *CreditRepository) InsertEntry(_ context.Context, entry *domain.CreditEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEvent[entry.SourceEventID]; exists {
		return false, nil
	}
	clone := *entry
	r.entries = append(r.entries, &clone)
	r.byEvent[entry.SourceEventID] = &clone
	return true, nil
}

func (r *CreditRepository) ReserveSingleUse(_ context.Context, identity string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.OwnerIdentity == identity && entry.Kind == domain.CreditKindSingleUse && entry.RemainingCount > 0 {
			entry.RemainingCount--
			return true, nil
		}
	}
	return false, nil
}

func (r *CreditRepository) HasActiveSubscription(_ context.Context, identity string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.OwnerIdentity == identity && entry.Kind == domain.CreditKindSubscriptionWindow &&
			entry.ValidUntil != nil && now.Before(*entry.ValidUntil) {
			return true, nil
		}
	}
	return false, nil
}

func (r *CreditRepository) ListByOwner(_ context.Context, identity string) ([]domain.CreditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.CreditEntry
	for _, entry := range r.entries {
		if entry.OwnerIdentity == identity {
			items = append(items, *entry)
		}
	}
	return items, nil
}
