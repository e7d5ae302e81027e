//go:build !integration

package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"drawing-query/internal/domain"
	"drawing-query/internal/domain/model"
	"drawing-query/internal/domain/ports/adapter"
	"drawing-query/internal/infra/logging"
	"drawing-query/internal/infra/memstore"
	"drawing-query/internal/infra/querymem"
)

type fakeCorpus struct {
	drawings map[string][]adapter.UnitRecord
	loadErr  error
}

func newFakeCorpus(names ...string) *fakeCorpus {
	c := &fakeCorpus{drawings: map[string][]adapter.UnitRecord{}}
	for _, n := range names {
		c.drawings[n] = []adapter.UnitRecord{{ID: n + "-1", Text: "sheet of " + n}}
	}
	return c
}

func (c *fakeCorpus) ListAvailable(ctx context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(c.drawings))
	for n := range c.drawings {
		out[n] = struct{}{}
	}
	return out, nil
}

func (c *fakeCorpus) Classify(ctx context.Context, name string) (string, error) {
	return "pid", nil
}

func (c *fakeCorpus) GetArtifacts(ctx context.Context, name string) ([]adapter.UnitRecord, error) {
	if c.loadErr != nil {
		return nil, c.loadErr
	}
	return c.drawings[name], nil
}

type fakeReasoner struct {
	batchErr   error
	batches    [][]string
	tags       []model.TagSpec
	synthText  string
	synthInput model.MergedArtifacts
	synthCalls int
	score      float64
	suggest    []string
}

func (r *fakeReasoner) ProcessBatch(ctx context.Context, req adapter.BatchRequest) (adapter.BatchOutput, error) {
	names := make([]string, 0, len(req.Targets))
	for _, t := range req.Targets {
		names = append(names, t.Name)
	}
	r.batches = append(r.batches, names)
	if r.batchErr != nil {
		return adapter.BatchOutput{}, r.batchErr
	}
	return adapter.BatchOutput{Text: fmt.Sprintf("text%d", req.BatchIndex), Tags: r.tags}, nil
}

func (r *fakeReasoner) Synthesize(ctx context.Context, query string, artifacts model.MergedArtifacts) (string, error) {
	r.synthCalls++
	r.synthInput = artifacts
	return r.synthText, nil
}

func (r *fakeReasoner) ScoreSimilarity(ctx context.Context, query string, priors []adapter.PriorQuery) (map[string]float64, error) {
	out := make(map[string]float64, len(priors))
	for _, p := range priors {
		out[p.FingerprintID] = r.score
	}
	return out, nil
}

func (r *fakeReasoner) SuggestTargets(ctx context.Context, query string, candidates []string) ([]string, error) {
	return r.suggest, nil
}

// failingBatch fails every attempt of one batch and delegates the rest.
type failingBatch struct {
	*fakeReasoner
	index int
}

func (f *failingBatch) ProcessBatch(ctx context.Context, req adapter.BatchRequest) (adapter.BatchOutput, error) {
	if req.BatchIndex == f.index {
		f.batches = append(f.batches, nil)
		return adapter.BatchOutput{}, domain.ErrRateLimited
	}
	return f.fakeReasoner.ProcessBatch(ctx, req)
}

type flagInterrupter bool

func (f flagInterrupter) Interrupted(string) bool { return bool(f) }

type harness struct {
	jobs     *memstore.JobTable
	memory   *querymem.Store
	cacheDir string
	corpus   *fakeCorpus
	reasoner *fakeReasoner
	retrier  *Retrier
	proc     *QueryJobProcessor
}

func newHarness(t *testing.T, corpus *fakeCorpus, cfg ProcessorConfig) *harness {
	t.Helper()
	r := &fakeReasoner{}
	dir := t.TempDir()
	mem, err := querymem.Open(dir, r, nil, logging.Nop())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	retrier := NewRetrier(DefaultRetryPolicy(), testClassifier).WithClock(
		func() float64 { return 0.5 },
		func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	)
	jobs := memstore.NewJobTable()
	return &harness{
		jobs:     jobs,
		memory:   mem,
		cacheDir: dir,
		corpus:   corpus,
		reasoner: r,
		retrier:  retrier,
		proc:     NewQueryJobProcessor(jobs, mem, corpus, r, retrier, cfg, logging.Nop()),
	}
}

// assertOnlyIndexed fails when the cache directory holds anything besides the
// index file and directories of indexed fingerprints.
func (h *harness) assertOnlyIndexed(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.cacheDir)
	if err != nil {
		t.Fatalf("read cache dir: %v", err)
	}
	dirs := 0
	for _, e := range entries {
		if e.Name() == "query_index.json" {
			continue
		}
		if _, ok := h.memory.Get(e.Name()); !ok || !e.IsDir() {
			t.Fatalf("unindexed entry left in cache dir: %s", e.Name())
		}
		dirs++
	}
	if dirs != h.memory.Len() {
		t.Fatalf("cache dirs = %d, indexed = %d", dirs, h.memory.Len())
	}
}

func (h *harness) run(t *testing.T, id, query string, targets []string, useCache bool) model.JobSnapshot {
	t.Helper()
	job, err := model.NewQueryJob(id, query, targets, useCache, h.proc.BatchSize(), time.Now())
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if err := h.jobs.Insert(job); err != nil {
		t.Fatalf("insert: %v", err)
	}
	h.proc.Execute(context.Background(), id)
	snap, err := h.jobs.Snapshot(id, 0)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func TestExecute_BatchedRunJoinsBatchTexts(t *testing.T) {
	h := newHarness(t, newFakeCorpus("A", "B", "C", "D"), DefaultProcessorConfig())

	snap := h.run(t, "job-1", "Q", []string{"A", "B", "C", "D"}, false)

	if snap.Status != model.JobStatusCompleted {
		t.Fatalf("status = %s, error = %v", snap.Status, snap.Error)
	}
	if snap.TotalBatches != 2 || snap.CompletedBatches != 2 || snap.Progress != 100 {
		t.Fatalf("batches=%d/%d progress=%d", snap.CompletedBatches, snap.TotalBatches, snap.Progress)
	}
	if len(h.reasoner.batches) != 2 ||
		strings.Join(h.reasoner.batches[0], ",") != "A,B,C" ||
		strings.Join(h.reasoner.batches[1], ",") != "D" {
		t.Fatalf("batches = %v", h.reasoner.batches)
	}
	if snap.Result == nil || *snap.Result != "text1\n\ntext2" {
		t.Fatalf("result = %v", snap.Result)
	}
	if h.memory.Len() != 1 {
		t.Fatalf("fingerprints = %d, want 1", h.memory.Len())
	}
	h.assertOnlyIndexed(t)
	if snap.Phase != model.PhaseComplete || snap.CurrentBatch != nil {
		t.Fatalf("phase=%s current=%v", snap.Phase, snap.CurrentBatch)
	}
}

func TestExecute_ExhaustedBatchesStillComplete(t *testing.T) {
	h := newHarness(t, newFakeCorpus("A", "B", "C", "D"), DefaultProcessorConfig())
	h.reasoner.batchErr = domain.ErrTransient

	snap := h.run(t, "job-1", "Q", []string{"A", "B", "C", "D"}, false)

	if snap.Status != model.JobStatusCompleted || snap.Result == nil {
		t.Fatalf("status = %s", snap.Status)
	}
	if !strings.Contains(*snap.Result, "[Error processing batch 1") || !strings.Contains(*snap.Result, "batch 2") {
		t.Fatalf("result missing failure markers: %q", *snap.Result)
	}
	if len(h.reasoner.batches) != 10 {
		t.Fatalf("reasoner calls = %d, want 5 per batch", len(h.reasoner.batches))
	}
	if h.memory.Len() != 0 {
		t.Fatal("a run with no successful batch must not be fingerprinted")
	}
	h.assertOnlyIndexed(t)
	if snap.CompletedBatches >= snap.TotalBatches || snap.Progress != 100 {
		t.Fatalf("batches=%d/%d progress=%d", snap.CompletedBatches, snap.TotalBatches, snap.Progress)
	}
	warnings := 0
	for _, m := range snap.Messages {
		if m.Level == model.MessageWarning {
			warnings++
		}
	}
	if warnings != 8 {
		t.Fatalf("retry warnings = %d, want 8", warnings)
	}
}

func TestExecute_CacheHitMergesEveryQualifyingFingerprint(t *testing.T) {
	h := newHarness(t, newFakeCorpus("A", "B"), DefaultProcessorConfig())
	h.reasoner.tags = []model.TagSpec{{Tag: "PV-101", Spec: "150 psi", Confidence: model.ConfidenceHigh, SourceUnit: "A-1"}}

	h.run(t, "seed-1", "pressure rating of PV-101", []string{"A"}, false)
	h.run(t, "seed-2", "PV-101 pressure rating", []string{"A", "B"}, false)
	if h.memory.Len() != 2 {
		t.Fatalf("fingerprints = %d", h.memory.Len())
	}
	calls := len(h.reasoner.batches)

	h.reasoner.score = 0.9
	h.reasoner.synthText = "PV-101 is rated 150 psi"
	snap := h.run(t, "job-3", "what is PV-101 rated for", []string{"A", "B"}, true)

	if snap.Status != model.JobStatusCompleted || snap.Result == nil || *snap.Result != "PV-101 is rated 150 psi" {
		t.Fatalf("status=%s result=%v", snap.Status, snap.Result)
	}
	if len(h.reasoner.batches) != calls {
		t.Fatal("cache hit must not process batches")
	}
	if h.reasoner.synthCalls != 1 {
		t.Fatalf("synthesis calls = %d", h.reasoner.synthCalls)
	}
	if got := len(h.reasoner.synthInput.Tags["PV-101"]); got != 2 {
		t.Fatalf("merged PV-101 specs = %d, want duplicates kept", got)
	}
	if len(h.reasoner.synthInput.FingerprintIDs) != 2 {
		t.Fatalf("merged fingerprints = %v", h.reasoner.synthInput.FingerprintIDs)
	}
}

func TestExecute_CacheMissBelowThreshold(t *testing.T) {
	h := newHarness(t, newFakeCorpus("A"), DefaultProcessorConfig())
	h.run(t, "seed", "valve list", []string{"A"}, false)

	h.reasoner.score = 0.79
	snap := h.run(t, "job-2", "pump list", []string{"A"}, true)

	if snap.Status != model.JobStatusCompleted || *snap.Result != "text1" {
		t.Fatalf("status=%s result=%v", snap.Status, snap.Result)
	}
	if h.reasoner.synthCalls != 0 {
		t.Fatal("synthesis must only run on a cache hit")
	}
	if h.memory.Len() != 2 {
		t.Fatalf("fingerprints = %d, want 2", h.memory.Len())
	}
}

func TestExecute_SuggestionsNarrowWorkingSet(t *testing.T) {
	cfg := DefaultProcessorConfig()
	cfg.SuggestTargets = true
	h := newHarness(t, newFakeCorpus("A", "B", "C", "D", "E"), cfg)
	h.reasoner.suggest = []string{"E", "Z", "A"}

	snap := h.run(t, "job-1", "Q", []string{"A", "B", "C", "D", "E"}, false)

	if snap.Status != model.JobStatusCompleted || snap.TotalBatches != 1 {
		t.Fatalf("status=%s total=%d", snap.Status, snap.TotalBatches)
	}
	if len(h.reasoner.batches) != 1 || strings.Join(h.reasoner.batches[0], ",") != "E,A" {
		t.Fatalf("batches = %v", h.reasoner.batches)
	}
}

func TestExecute_NoAvailableTargetsFails(t *testing.T) {
	h := newHarness(t, newFakeCorpus("A"), DefaultProcessorConfig())

	snap := h.run(t, "job-1", "Q", []string{"X", "Y"}, false)

	if snap.Status != model.JobStatusFailed || snap.Error == nil {
		t.Fatalf("status = %s", snap.Status)
	}
	if !strings.Contains(*snap.Error, domain.ErrNoAvailableTargets.Error()) {
		t.Fatalf("error = %q", *snap.Error)
	}
	if snap.Result != nil {
		t.Fatal("failed job must not carry a result")
	}
}

func TestExecute_CorpusErrorIsFatal(t *testing.T) {
	c := newFakeCorpus("A")
	c.loadErr = errors.New("disk gone")
	h := newHarness(t, c, DefaultProcessorConfig())

	snap := h.run(t, "job-1", "Q", []string{"A"}, false)

	if snap.Status != model.JobStatusFailed || !strings.Contains(*snap.Error, "disk gone") {
		t.Fatalf("status=%s error=%v", snap.Status, snap.Error)
	}
	if len(h.reasoner.batches) != 0 {
		t.Fatal("reasoner must not be called when artifacts cannot load")
	}
	h.assertOnlyIndexed(t)
}

func TestExecute_InterruptedBetweenBatches(t *testing.T) {
	h := newHarness(t, newFakeCorpus("A", "B", "C", "D"), DefaultProcessorConfig())
	h.proc.WithInterrupter(flagInterrupter(true))

	snap := h.run(t, "job-1", "Q", []string{"A", "B", "C", "D"}, false)

	if snap.Status != model.JobStatusFailed || !strings.Contains(*snap.Error, domain.ErrInterrupted.Error()) {
		t.Fatalf("status=%s error=%v", snap.Status, snap.Error)
	}
	if h.memory.Len() != 0 {
		t.Fatal("interrupted run must not be fingerprinted")
	}
	h.assertOnlyIndexed(t)
}

func TestExecute_DegradedBatchKeepsRealCount(t *testing.T) {
	h := newHarness(t, newFakeCorpus("A", "B", "C", "D"), DefaultProcessorConfig())
	h.proc = NewQueryJobProcessor(h.jobs, h.memory, h.corpus, &failingBatch{fakeReasoner: h.reasoner, index: 2}, h.retrier, DefaultProcessorConfig(), logging.Nop())

	snap := h.run(t, "job-1", "Q", []string{"A", "B", "C", "D"}, false)

	if snap.Status != model.JobStatusCompleted || snap.Progress != 100 {
		t.Fatalf("status=%s progress=%d", snap.Status, snap.Progress)
	}
	if snap.CompletedBatches != 1 || snap.TotalBatches != 2 {
		t.Fatalf("batches = %d/%d, want 1/2", snap.CompletedBatches, snap.TotalBatches)
	}
	if !strings.HasPrefix(*snap.Result, "text1\n\n[Error processing batch 2") {
		t.Fatalf("result = %q", *snap.Result)
	}
	if h.memory.Len() != 1 {
		t.Fatalf("fingerprints = %d, want 1", h.memory.Len())
	}
	h.assertOnlyIndexed(t)
}

// progressTrail records progress and status after every update of the job table.
type progressTrail struct {
	*memstore.JobTable
	points []progressPoint
}

type progressPoint struct {
	progress int
	status   model.JobStatus
}

func (p *progressTrail) Update(id string, fn func(j *model.QueryJob)) error {
	return p.JobTable.Update(id, func(j *model.QueryJob) {
		fn(j)
		p.points = append(p.points, progressPoint{progress: j.Progress, status: j.Status})
	})
}

func TestExecute_ProgressMonotonicAndHundredOnlyWhenCompleted(t *testing.T) {
	cases := []struct {
		name     string
		loadErr  error
		batchErr error
		want     model.JobStatus
	}{
		{"completed run", nil, nil, model.JobStatusCompleted},
		{"degraded run", nil, domain.ErrTransient, model.JobStatusCompleted},
		{"failed run", errors.New("disk gone"), nil, model.JobStatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, newFakeCorpus("A", "B", "C", "D"), DefaultProcessorConfig())
			h.corpus.loadErr = tc.loadErr
			h.reasoner.batchErr = tc.batchErr
			trail := &progressTrail{JobTable: h.jobs}
			h.proc = NewQueryJobProcessor(trail, h.memory, h.corpus, h.reasoner, h.retrier, DefaultProcessorConfig(), logging.Nop())

			snap := h.run(t, "job-1", "Q", []string{"A", "B", "C", "D"}, false)

			if snap.Status != tc.want {
				t.Fatalf("status = %s", snap.Status)
			}
			if len(trail.points) < 3 {
				t.Fatalf("only %d updates recorded", len(trail.points))
			}
			last := -1
			for i, pt := range trail.points {
				if pt.progress < last {
					t.Fatalf("update %d: progress went backwards %d -> %d", i, last, pt.progress)
				}
				if (pt.progress == 100) != (pt.status == model.JobStatusCompleted) {
					t.Fatalf("update %d: progress %d with status %s", i, pt.progress, pt.status)
				}
				last = pt.progress
			}
			if final := trail.points[len(trail.points)-1]; final.status != tc.want {
				t.Fatalf("last recorded status = %s", final.status)
			}
		})
	}
}

func TestExecute_SkipsJobsNotPending(t *testing.T) {
	h := newHarness(t, newFakeCorpus("A"), DefaultProcessorConfig())
	first := h.run(t, "job-1", "Q", []string{"A"}, false)

	h.proc.Execute(context.Background(), "job-1")
	again, _ := h.jobs.Snapshot("job-1", 0)

	if again.Status != first.Status || len(h.reasoner.batches) != 1 {
		t.Fatalf("re-executing a finished job changed it: %s, calls=%d", again.Status, len(h.reasoner.batches))
	}
}

func TestFilterAvailable(t *testing.T) {
	avail := map[string]struct{}{"A": {}, "C": {}}
	got := FilterAvailable([]string{"C", "B", "A", "C"}, avail)
	if strings.Join(got, ",") != "C,A" {
		t.Fatalf("got %v", got)
	}
}

func TestDegradedBatchText(t *testing.T) {
	msg := DegradedBatchText(2, model.FailureRateLimit, 5, domain.ErrRateLimited)
	if !strings.HasPrefix(msg, "[Error processing batch 2: rate limit exceeded") || !strings.Contains(msg, "5 attempts") {
		t.Fatalf("msg = %q", msg)
	}
}
