package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

const jobColumns = `id, owner_identity, state, input_ref, output_ref, cleanup_ref,
target_triangles, preview, credit_consumed, vertex_count_before, vertex_count_after,
error_detail, attempt_count, created_at, started_at, completed_at, expires_at`

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. All state
// transitions are conditional updates so concurrent workers cannot move the
// same job twice.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record in its initial state.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, owner_identity, state, input_ref, target_triangles, preview, credit_consumed, error_detail, attempt_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, '', 0, $8);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.OwnerIdentity,
		job.State,
		job.InputRef,
		job.TargetTriangles,
		job.Preview,
		job.CreditConsumed,
		job.CreatedAt,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1;`, jobID)
	return scanJob(row)
}

// GetByOutputRef fetches the job owning the given artifact locator.
func (r *JobRepositoryPG) GetByOutputRef(ctx context.Context, locator string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE output_ref = $1;`, locator)
	return scanJob(row)
}

// MarkQueued transitions pending -> queued.
func (r *JobRepositoryPG) MarkQueued(ctx context.Context, jobID string) error {
	return r.transition(ctx, `
UPDATE jobs SET state = 'queued'
WHERE id = $1 AND state = 'pending';
`, jobID)
}

// Claim transitions queued -> processing for exactly one caller. The
// attempt_count guard refuses the claim once retries are exhausted.
func (r *JobRepositoryPG) Claim(ctx context.Context, jobID string, maxAttempts int) (*domain.Job, error) {
	query := `
UPDATE jobs
SET state = 'processing', started_at = now(), attempt_count = attempt_count + 1
WHERE id = $1 AND state = 'queued' AND attempt_count < $2
RETURNING ` + jobColumns + `;`
	row := r.pool.QueryRow(ctx, query, jobID, maxAttempts)
	job, err := scanJob(row)
	if errors.Is(err, domain.ErrNotFound) {
		if _, getErr := r.GetByID(ctx, jobID); getErr != nil {
			return nil, getErr
		}
		return nil, domain.ErrStateConflict
	}
	return job, err
}

// Requeue transitions processing -> queued.
func (r *JobRepositoryPG) Requeue(ctx context.Context, jobID string) error {
	return r.transition(ctx, `
UPDATE jobs SET state = 'queued', started_at = NULL
WHERE id = $1 AND state = 'processing';
`, jobID)
}

// MarkCompleted transitions processing -> completed with the artifact locator
// and retention deadline.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, jobID, outputRef string, expiresAt time.Time, vertexBefore, vertexAfter *int) error {
	return r.transition(ctx, `
UPDATE jobs
SET state = 'completed',
    output_ref = $2,
    expires_at = $3,
    completed_at = now(),
    vertex_count_before = COALESCE($4, vertex_count_before),
    vertex_count_after = COALESCE($5, vertex_count_after)
WHERE id = $1 AND state = 'processing';
`, jobID, outputRef, expiresAt, vertexBefore, vertexAfter)
}

// MarkFailed transitions queued|processing -> failed.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID, detail string) error {
	return r.transition(ctx, `
UPDATE jobs SET state = 'failed', error_detail = $2, completed_at = now()
WHERE id = $1 AND state IN ('queued', 'processing');
`, jobID, detail)
}

// MarkExpired transitions completed -> expired. The artifact locator moves to
// cleanup_ref so the sweeper can retry deletion without breaking the
// output_ref/state invariant.
func (r *JobRepositoryPG) MarkExpired(ctx context.Context, jobID string) error {
	return r.transition(ctx, `
UPDATE jobs SET state = 'expired', cleanup_ref = output_ref, output_ref = NULL
WHERE id = $1 AND state = 'completed';
`, jobID)
}

// ClearCleanup records that the expired artifact has been deleted.
func (r *JobRepositoryPG) ClearCleanup(ctx context.Context, jobID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE jobs SET cleanup_ref = NULL WHERE id = $1;`, jobID)
	return err
}

// ListExpirable returns completed jobs past their retention deadline.
func (r *JobRepositoryPG) ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	return r.list(ctx, `
SELECT `+jobColumns+` FROM jobs
WHERE state = 'completed' AND expires_at <= $1
ORDER BY expires_at ASC
LIMIT $2;
`, now, limit)
}

// ListPendingCleanup returns expired jobs whose artifact deletion failed on a
// previous sweep.
func (r *JobRepositoryPG) ListPendingCleanup(ctx context.Context, limit int) ([]domain.Job, error) {
	return r.list(ctx, `
SELECT `+jobColumns+` FROM jobs
WHERE state = 'expired' AND cleanup_ref IS NOT NULL
ORDER BY expires_at ASC
LIMIT $1;
`, limit)
}

func (r *JobRepositoryPG) transition(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStateConflict
	}
	return nil
}

func (r *JobRepositoryPG) list(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *job)
	}
	return items, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.OwnerIdentity,
		&job.State,
		&job.InputRef,
		&job.OutputRef,
		&job.CleanupRef,
		&job.TargetTriangles,
		&job.Preview,
		&job.CreditConsumed,
		&job.VertexCountBefore,
		&job.VertexCountAfter,
		&job.ErrorDetail,
		&job.AttemptCount,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.ExpiresAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}
