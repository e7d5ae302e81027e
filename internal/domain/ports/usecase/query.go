package usecase

import (
	"context"

	"drawing-query/internal/domain/model"
)

// QueryJobs is the caller-facing contract of the job orchestrator.
type QueryJobs interface {
	Submit(ctx context.Context, query string, targets []string, useCache bool) (string, error)
	GetStatus(ctx context.Context, jobID string) (model.JobSnapshot, error)
	ListJobs(ctx context.Context) ([]model.JobSummary, error)
}
