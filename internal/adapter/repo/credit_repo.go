package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// CreditRepositoryPG implements domain.CreditRepository using PostgreSQL.
type CreditRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCreditRepository creates a new credit repository.
func NewCreditRepository(pool *pgxpool.Pool) *CreditRepositoryPG {
	return &CreditRepositoryPG{pool: pool}
}

// InsertEntry inserts a ledger entry. The unique constraint on
// source_event_id makes replayed payment confirmations a no-op.
func (r *CreditRepositoryPG) InsertEntry(ctx context.Context, entry *domain.CreditEntry) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
INSERT INTO credit_entries (id, owner_identity, kind, remaining_count, valid_until, source_event_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (source_event_id) DO NOTHING;
`,
		entry.ID,
		entry.OwnerIdentity,
		entry.Kind,
		entry.RemainingCount,
		entry.ValidUntil,
		entry.SourceEventID,
		entry.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReserveSingleUse decrements one usable single-use credit. The inner select
// with FOR UPDATE SKIP LOCKED serializes concurrent reservations so the last
// credit cannot be spent twice.
func (r *CreditRepositoryPG) ReserveSingleUse(ctx context.Context, identity string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE credit_entries
SET remaining_count = remaining_count - 1
WHERE id = (
    SELECT id FROM credit_entries
    WHERE owner_identity = $1 AND kind = 'single_use' AND remaining_count > 0
    ORDER BY created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
);
`, identity)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// HasActiveSubscription reports whether the identity holds a subscription
// window covering the given instant.
func (r *CreditRepositoryPG) HasActiveSubscription(ctx context.Context, identity string, now time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM credit_entries
    WHERE owner_identity = $1 AND kind = 'subscription_window' AND valid_until > $2
);
`, identity, now).Scan(&exists)
	return exists, err
}

// ListByOwner returns all ledger entries for an identity, newest first.
func (r *CreditRepositoryPG) ListByOwner(ctx context.Context, identity string) ([]domain.CreditEntry, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, owner_identity, kind, remaining_count, valid_until, source_event_id, created_at
FROM credit_entries
WHERE owner_identity = $1
ORDER BY created_at DESC;
`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.CreditEntry
	for rows.Next() {
		var entry domain.CreditEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.OwnerIdentity,
			&entry.Kind,
			&entry.RemainingCount,
			&entry.ValidUntil,
			&entry.SourceEventID,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, entry)
	}
	return items, rows.Err()
}
