package domain

import "time"

// CreditKind enumerates entitlement shapes.
type CreditKind string

const (
	CreditKindSingleUse          CreditKind = "single_use"
	CreditKindSubscriptionWindow CreditKind = "subscription_window"
)

// Products recognized by the payment webhook.
const (
	ProductSingleExport = "EXPORT_1"
	ProductCreatorMonth = "CREATOR_MONTH"
)

// CreditEntry records one entitlement minted from a confirmed payment. Entries
// are never deleted, only decremented or aged out.
type CreditEntry struct {
	ID             string
	OwnerIdentity  string
	Kind           CreditKind
	RemainingCount int
	ValidUntil     *time.Time
	SourceEventID  string
	CreatedAt      time.Time
}

// Usable reports whether the entry still grants access at the given instant.
func (e *CreditEntry) Usable(now time.Time) bool {
	switch e.Kind {
	case CreditKindSingleUse:
		return e.RemainingCount > 0
	case CreditKindSubscriptionWindow:
		return e.ValidUntil != nil && now.Before(*e.ValidUntil)
	}
	return false
}

// PaymentEvent is a verified, deduplicated payment confirmation delivered by
// the webhook layer. EventID is the idempotency key.
type PaymentEvent struct {
	EventID       string
	OwnerIdentity string
	Product       string
}
