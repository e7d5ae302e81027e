package repository

import (
	"time"

	"drawing-query/internal/domain/model"
)

// QueryJobRepository is the shared job table. Every call is serialized by one
// table-wide lock, so Update callbacks must not block.
type QueryJobRepository interface {
	Insert(job *model.QueryJob) error
	// Update applies fn to the live record under the table lock.
	Update(id string, fn func(job *model.QueryJob)) error
	Snapshot(id string, tail int) (model.JobSnapshot, error)
	List() []model.JobSummary
	Delete(id string) error
	// DeleteCreatedBefore removes jobs created before cutoff; zero timestamps are skipped.
	DeleteCreatedBefore(cutoff time.Time) int
}
