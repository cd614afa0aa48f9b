package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/storage"
)

const sweepBatchSize = 100

// Sweeper periodically retires completed jobs whose retention window has
// passed: the job transitions to expired, then the artifact is deleted from
// storage. The transition is authoritative; a failed deletion is logged and
// retried on the next sweep via the job's cleanup reference.
type Sweeper struct {
	Jobs     domain.JobRepository
	Store    storage.Store
	Logger   zerolog.Logger
	Interval time.Duration

	Now func() time.Time
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s.Logger.Info().Dur("interval", interval).Msg("sweeper: started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.Logger.Error().Err(err).Msg("sweeper: sweep failed")
			} else if n > 0 {
				s.Logger.Info().Int("expired", n).Msg("sweeper: sweep complete")
			}
		}
	}
}

// SweepOnce expires every completed job past its deadline and retries any
// outstanding artifact deletions. It returns how many jobs were expired.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	jobs, err := s.Jobs.ListExpirable(ctx, s.now(), sweepBatchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, job := range jobs {
		if err := s.Jobs.MarkExpired(ctx, job.ID); err != nil {
			s.Logger.Error().Err(err).Str("job_id", job.ID).Msg("sweeper: expire job")
			continue
		}
		expired++
		s.deleteArtifact(ctx, job.ID, job.OutputRef)
	}

	// Second pass: artifacts whose deletion failed on an earlier sweep.
	stale, err := s.Jobs.ListPendingCleanup(ctx, sweepBatchSize)
	if err != nil {
		return expired, err
	}
	for _, job := range stale {
		s.deleteArtifact(ctx, job.ID, job.CleanupRef)
	}
	return expired, nil
}

// deleteArtifact removes the stored object and clears the cleanup marker.
// Failures are logged, never escalated.
func (s *Sweeper) deleteArtifact(ctx context.Context, jobID string, locator *string) {
	if locator == nil {
		return
	}
	if err := s.Store.Delete(ctx, *locator); err != nil {
		s.Logger.Warn().Err(err).Str("job_id", jobID).Str("locator", *locator).Msg("sweeper: delete artifact")
		return
	}
	if err := s.Jobs.ClearCleanup(ctx, jobID); err != nil {
		s.Logger.Warn().Err(err).Str("job_id", jobID).Msg("sweeper: clear cleanup marker")
	}
}
