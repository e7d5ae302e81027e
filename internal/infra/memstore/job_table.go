package memstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"drawing-query/internal/domain"
	"drawing-query/internal/domain/model"
	"drawing-query/internal/domain/ports/repository"
)

var _ repository.QueryJobRepository = (*JobTable)(nil)

// JobTable is the process-scoped job store. One mutex guards the whole map so
// snapshot reads never observe a half-applied update.
type JobTable struct {
	mu   sync.Mutex
	jobs map[string]*model.QueryJob
}

func NewJobTable() *JobTable {
	return &JobTable{jobs: make(map[string]*model.QueryJob)}
}

func (t *JobTable) Insert(job *model.QueryJob) error {
	if job == nil || job.ID == "" {
		return domain.ErrInvalidArgument
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	t.jobs[job.ID] = job
	return nil
}

func (t *JobTable) Update(id string, fn func(job *model.QueryJob)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(j)
	return nil
}

func (t *JobTable) Snapshot(id string, tail int) (model.JobSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return model.JobSnapshot{}, domain.ErrNotFound
	}
	return j.Snapshot(tail), nil
}

// List returns summaries ordered by creation time, oldest first.
func (t *JobTable) List() []model.JobSummary {
	t.mu.Lock()
	out := make([]model.JobSummary, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, j.Summary())
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}

func (t *JobTable) Delete(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(t.jobs, id)
	return nil
}

func (t *JobTable) DeleteCreatedBefore(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, j := range t.jobs {
		if j.CreatedAt.IsZero() {
			continue
		}
		if j.CreatedAt.Before(cutoff) {
			delete(t.jobs, id)
			n++
		}
	}
	return n
}

func (t *JobTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}
