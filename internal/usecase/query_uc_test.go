//go:build !integration

package usecase

import (
	"context"
	"errors"
	"testing"

	"drawing-query/internal/domain"
	"drawing-query/internal/domain/model"
	"drawing-query/internal/infra/logging"
	"drawing-query/internal/infra/memstore"
)

// syncLauncher runs the task inline so tests observe the terminal state.
type syncLauncher struct {
	names []string
	err   error
}

func (l *syncLauncher) Go(name string, task func(ctx context.Context)) error {
	if l.err != nil {
		return l.err
	}
	l.names = append(l.names, name)
	task(context.Background())
	return nil
}

type recordingExec struct {
	jobs *memstore.JobTable
	ran  []string
}

func (e *recordingExec) Execute(ctx context.Context, jobID string) {
	e.ran = append(e.ran, jobID)
	_ = e.jobs.Update(jobID, func(j *model.QueryJob) {
		_ = j.Start()
		j.Complete("done")
	})
}

func newTestUC(launcher Launcher) (*queryUC, *memstore.JobTable, *recordingExec) {
	jobs := memstore.NewJobTable()
	exec := &recordingExec{jobs: jobs}
	return NewQueryUseCase(jobs, launcher, exec, 3, 20, logging.Nop()), jobs, exec
}

func TestSubmit_StartsJobImmediately(t *testing.T) {
	launcher := &syncLauncher{}
	uc, _, exec := newTestUC(launcher)
	ctx := context.Background()

	id, err := uc.Submit(ctx, "  list all valves ", []string{"A", "B", "A", "C", "D"}, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(exec.ran) != 1 || exec.ran[0] != id {
		t.Fatalf("executed %v, want [%s]", exec.ran, id)
	}
	if launcher.names[0] != "query_job:"+id {
		t.Fatalf("task name = %q", launcher.names[0])
	}

	snap, err := uc.GetStatus(ctx, id)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if snap.Status != model.JobStatusCompleted || snap.Query != "list all valves" {
		t.Fatalf("snap = %+v", snap)
	}
	if len(snap.Targets) != 4 || snap.TotalBatches != 2 {
		t.Fatalf("targets=%v total=%d", snap.Targets, snap.TotalBatches)
	}
}

func TestSubmit_Validation(t *testing.T) {
	uc, jobs, exec := newTestUC(&syncLauncher{})
	ctx := context.Background()

	if _, err := uc.Submit(ctx, "   ", []string{"A"}, true); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty query: %v", err)
	}
	if _, err := uc.Submit(ctx, "q", []string{" ", ""}, true); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty targets: %v", err)
	}
	if jobs.Len() != 0 || len(exec.ran) != 0 {
		t.Fatal("invalid submissions must not create jobs")
	}
}

func TestSubmit_LaunchFailureDropsJob(t *testing.T) {
	launchErr := errors.New("launcher closed")
	uc, jobs, exec := newTestUC(&syncLauncher{err: launchErr})

	id, err := uc.Submit(context.Background(), "q", []string{"A"}, true)
	if !errors.Is(err, launchErr) || id != "" {
		t.Fatalf("Submit = %q, %v", id, err)
	}
	if jobs.Len() != 0 || len(exec.ran) != 0 {
		t.Fatalf("unstarted job kept: jobs=%d ran=%v", jobs.Len(), exec.ran)
	}
	list, _ := uc.ListJobs(context.Background())
	if len(list) != 0 {
		t.Fatalf("list = %+v", list)
	}
}

func TestGetStatus_NotFound(t *testing.T) {
	uc, _, _ := newTestUC(&syncLauncher{})
	if _, err := uc.GetStatus(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestSubmit_IDsAreUniqueAndSortable(t *testing.T) {
	uc, _, _ := newTestUC(&syncLauncher{})
	seen := map[string]bool{}
	prev := ""
	for i := 0; i < 50; i++ {
		id, err := uc.Submit(context.Background(), "q", []string{"A"}, false)
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		if id <= prev {
			t.Fatalf("id %s not after %s", id, prev)
		}
		seen[id] = true
		prev = id
	}
	list, _ := uc.ListJobs(context.Background())
	if len(list) != 50 {
		t.Fatalf("listed %d jobs", len(list))
	}
}
