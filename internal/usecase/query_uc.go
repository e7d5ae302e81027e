// File: internal/usecase/query_uc.go
package usecase

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"drawing-query/internal/domain/model"
	"drawing-query/internal/domain/ports/repository"
	ports "drawing-query/internal/domain/ports/usecase"
)

// Compile-time check
var _ ports.QueryJobs = (*queryUC)(nil)

// Launcher starts a task on its own goroutine without waiting for it.
type Launcher interface {
	Go(name string, task func(ctx context.Context)) error
}

// JobExecutor runs one job to a terminal status.
type JobExecutor interface {
	Execute(ctx context.Context, jobID string)
}

type queryUC struct {
	jobs        repository.QueryJobRepository
	launcher    Launcher
	exec        JobExecutor
	batchSize   int
	messageTail int
	log         *zerolog.Logger

	now     func() time.Time
	entMu   sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewQueryUseCase(jobs repository.QueryJobRepository, launcher Launcher, exec JobExecutor, batchSize, messageTail int, logger *zerolog.Logger) *queryUC {
	if batchSize <= 0 {
		batchSize = model.DefaultBatchSize
	}
	if messageTail <= 0 {
		messageTail = 20
	}
	l := logger.With().Str("component", "QueryUseCase").Logger()
	return &queryUC{
		jobs:        jobs,
		launcher:    launcher,
		exec:        exec,
		batchSize:   batchSize,
		messageTail: messageTail,
		log:         &l,
		now:         time.Now,
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}
}

// Submit validates and stores a pending job, then starts it immediately.
func (u *queryUC) Submit(ctx context.Context, query string, targets []string, useCache bool) (string, error) {
	now := u.now()
	job, err := model.NewQueryJob(u.newID(now), query, targets, useCache, u.batchSize, now)
	if err != nil {
		return "", err
	}
	if err := u.jobs.Insert(job); err != nil {
		return "", err
	}

	id := job.ID
	if err := u.launcher.Go("query_job:"+id, func(ctx context.Context) { u.exec.Execute(ctx, id) }); err != nil {
		// The caller never sees the id, so the record must not outlive the error.
		if derr := u.jobs.Delete(id); derr != nil {
			u.log.Warn().Err(derr).Str("job_id", id).Msg("drop unstarted job failed")
		}
		return "", fmt.Errorf("start query job: %w", err)
	}
	u.log.Info().Str("job_id", id).Int("targets", len(job.Targets)).Int("batches", job.TotalBatches).Msg("query job submitted")
	return id, nil
}

func (u *queryUC) GetStatus(ctx context.Context, jobID string) (model.JobSnapshot, error) {
	return u.jobs.Snapshot(jobID, u.messageTail)
}

func (u *queryUC) ListJobs(ctx context.Context) ([]model.JobSummary, error) {
	return u.jobs.List(), nil
}

func (u *queryUC) newID(now time.Time) string {
	u.entMu.Lock()
	defer u.entMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), u.entropy).String()
}
