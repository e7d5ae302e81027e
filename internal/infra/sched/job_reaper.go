package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"drawing-query/internal/domain/ports/repository"
	"drawing-query/internal/infra/metrics"
)

const DefaultRetention = 24 * time.Hour

// JobReaper evicts job records older than the retention window. Cached
// query artifacts are not touched.
type JobReaper struct {
	jobs      repository.QueryJobRepository
	retention time.Duration
	now       func() time.Time
	log       *zerolog.Logger
}

func NewJobReaper(jobs repository.QueryJobRepository, retention time.Duration, logger *zerolog.Logger) *JobReaper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	l := logger.With().Str("component", "JobReaper").Logger()
	return &JobReaper{jobs: jobs, retention: retention, now: time.Now, log: &l}
}

// WithClock replaces the time source.
func (r *JobReaper) WithClock(now func() time.Time) *JobReaper {
	r.now = now
	return r
}

// Sweep deletes every job created more than the retention window ago.
func (r *JobReaper) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := r.jobs.DeleteCreatedBefore(r.now().Add(-r.retention))
	if n > 0 {
		metrics.AddReaped(n)
		r.log.Info().Int("count", n).Dur("retention", r.retention).Msg("stale query jobs reaped")
	}
	return n, nil
}
