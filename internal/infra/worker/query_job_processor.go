package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"drawing-query/internal/domain"
	"drawing-query/internal/domain/model"
	"drawing-query/internal/domain/ports/adapter"
	"drawing-query/internal/domain/ports/repository"
	"drawing-query/internal/infra/logging"
	"drawing-query/internal/infra/metrics"
)

// Interrupter is consulted between batches. A true answer stops the job.
type Interrupter interface {
	Interrupted(jobID string) bool
}

type ProcessorConfig struct {
	BatchSize           int
	SimilarityThreshold float64
	SuggestTargets      bool
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:           model.DefaultBatchSize,
		SimilarityThreshold: 0.8,
	}
}

// QueryJobProcessor runs one query job from Pending to a terminal status.
type QueryJobProcessor struct {
	jobs        repository.QueryJobRepository
	memory      repository.QueryMemory
	corpus      adapter.CorpusProvider
	reasoner    adapter.Reasoner
	retrier     *Retrier
	interrupter Interrupter
	cfg         ProcessorConfig
	now         func() time.Time
	log         *zerolog.Logger
}

func NewQueryJobProcessor(
	jobs repository.QueryJobRepository,
	memory repository.QueryMemory,
	corpus adapter.CorpusProvider,
	reasoner adapter.Reasoner,
	retrier *Retrier,
	cfg ProcessorConfig,
	log *zerolog.Logger,
) *QueryJobProcessor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = model.DefaultBatchSize
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultProcessorConfig().SimilarityThreshold
	}
	l := log.With().Str("component", "QueryJobProcessor").Logger()
	return &QueryJobProcessor{
		jobs:     jobs,
		memory:   memory,
		corpus:   corpus,
		reasoner: reasoner,
		retrier:  retrier,
		cfg:      cfg,
		now:      time.Now,
		log:      &l,
	}
}

func (p *QueryJobProcessor) WithInterrupter(i Interrupter) *QueryJobProcessor {
	p.interrupter = i
	return p
}

func (p *QueryJobProcessor) BatchSize() int { return p.cfg.BatchSize }

// Execute runs the job. Every error, including a panic, ends in Failed with
// the error text kept on the record.
func (p *QueryJobProcessor) Execute(ctx context.Context, jobID string) {
	ctx = logging.WithJobID(ctx, jobID)
	l := logging.With(ctx, p.log)
	metrics.JobStarted()
	defer metrics.JobFinished()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Msg("query job panicked")
			p.finish(l, jobID, "", fmt.Errorf("%w: panic: %v", domain.ErrFatalJob, r), start)
		}
	}()

	snap, err := p.jobs.Snapshot(jobID, 0)
	if err != nil {
		l.Error().Err(err).Msg("query job vanished before start")
		return
	}

	var startErr error
	p.update(jobID, func(j *model.QueryJob) {
		if startErr = j.Start(); startErr != nil {
			return
		}
		j.SetPhase(model.PhaseDiscovery)
		j.AddMessage(model.MessageInfo, fmt.Sprintf("Starting analysis of %d drawing(s)", len(snap.Targets)))
	})
	if startErr != nil {
		l.Warn().Err(startErr).Msg("query job not startable")
		return
	}
	l.Info().Int("targets", len(snap.Targets)).Bool("use_cache", snap.UseCache).Msg("Processing query job")

	result, err := p.handleJob(ctx, jobID, snap)
	p.finish(l, jobID, result, err, start)
}

func (p *QueryJobProcessor) finish(l *zerolog.Logger, jobID, result string, err error, start time.Time) {
	status := model.JobStatusCompleted
	if err != nil {
		status = model.JobStatusFailed
		l.Error().Err(err).Msg("query job failed")
		p.update(jobID, func(j *model.QueryJob) { j.Fail(err.Error()) })
	} else {
		p.update(jobID, func(j *model.QueryJob) { j.Complete(result) })
	}
	metrics.IncQueryJob(string(status))
	l.Info().Str("status", string(status)).Dur("duration_ms", time.Since(start)).Msg("query job finished")
}

func (p *QueryJobProcessor) handleJob(ctx context.Context, jobID string, snap model.JobSnapshot) (string, error) {
	if snap.UseCache {
		result, hit, err := p.tryCache(ctx, jobID, snap.Query)
		if err != nil {
			return "", err
		}
		if hit {
			return result, nil
		}
	}

	working, err := p.discoverTargets(ctx, jobID, snap.Query, snap.Targets)
	if err != nil {
		return "", err
	}

	writer, err := p.memory.Begin(ctx, snap.Query, p.now())
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrFatalJob, err)
	}

	// Nothing outside the index can reach the directory, so drop it unless Add succeeded.
	indexed := false
	defer func() {
		if indexed {
			return
		}
		if derr := writer.Discard(); derr != nil {
			p.log.Warn().Err(derr).Str("job_id", jobID).Str("fingerprint", writer.FingerprintID()).Msg("discard unindexed artifacts failed")
		}
	}()

	var (
		result    string
		succeeded int
	)
	if len(working) > p.cfg.BatchSize {
		result, succeeded, err = p.runBatched(ctx, jobID, snap.Query, working, writer)
	} else {
		result, succeeded, err = p.runSingle(ctx, jobID, snap.Query, working, writer)
	}
	if err != nil {
		return "", err
	}

	if succeeded > 0 {
		fp := model.Fingerprint{
			ID:        writer.FingerprintID(),
			Query:     snap.Query,
			CreatedAt: p.now(),
			Targets:   working,
		}
		if err := p.memory.Add(ctx, fp); err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrFatalJob, err)
		}
		indexed = true
	}
	return result, nil
}

// runBatched processes targets in strictly ordered batches and concatenates
// their texts with a blank line.
func (p *QueryJobProcessor) runBatched(ctx context.Context, jobID, query string, targets []string, w repository.ArtifactWriter) (string, int, error) {
	batches := model.SplitBatches(targets, p.cfg.BatchSize)
	texts := make([]string, 0, len(batches))
	succeeded := 0

	for _, b := range batches {
		if err := p.checkInterrupted(ctx, jobID); err != nil {
			return "", succeeded, err
		}
		p.update(jobID, func(j *model.QueryJob) {
			j.BeginBatch(b.Index)
			j.SetPhase(model.PhaseDiscovery)
			j.AddMessage(model.MessageInfo, fmt.Sprintf("Discovery: batch %d/%d (%s)", b.Index, b.Total, strings.Join(b.Targets, ", ")))
			if b.Index == 1 {
				j.AddMessage(model.MessageInfo, "Identifying elements across the selected drawings")
			}
			j.SetPhase(model.PhaseAnalysis)
		})

		text, ok, err := p.runBatch(ctx, jobID, query, b, w)
		if err != nil {
			return "", succeeded, err
		}
		texts = append(texts, text)
		if ok {
			succeeded++
			p.update(jobID, func(j *model.QueryJob) {
				j.FinishBatch(b.Index)
				j.AddMessage(model.MessageInfo, fmt.Sprintf("Correlation: batch %d/%d complete", b.Index, b.Total))
			})
		}
	}

	p.update(jobID, func(j *model.QueryJob) {
		j.SetPhase(model.PhaseSynthesis)
		j.AddMessage(model.MessageInfo, fmt.Sprintf("Synthesis: combining %d batch result(s)", len(texts)))
	})
	return strings.Join(texts, "\n\n"), succeeded, nil
}

// runSingle is the same shape without outer batching.
func (p *QueryJobProcessor) runSingle(ctx context.Context, jobID, query string, targets []string, w repository.ArtifactWriter) (string, int, error) {
	b := model.Batch{Index: 1, Total: 1, Targets: targets}
	p.update(jobID, func(j *model.QueryJob) {
		j.SetPhase(model.PhaseDiscovery)
		j.AddMessage(model.MessageInfo, fmt.Sprintf("Discovery: identifying elements in %d drawing(s)", len(targets)))
		j.BeginBatch(1)
		j.SetPhase(model.PhaseAnalysis)
		j.AddMessage(model.MessageInfo, "Analysis: examining drawing content")
	})

	text, ok, err := p.runBatch(ctx, jobID, query, b, w)
	if err != nil {
		return "", 0, err
	}
	succeeded := 0
	if ok {
		succeeded = 1
		p.update(jobID, func(j *model.QueryJob) { j.FinishBatch(1) })
	}
	p.update(jobID, func(j *model.QueryJob) {
		j.SetPhase(model.PhaseSynthesis)
		j.AddMessage(model.MessageInfo, "Synthesis: preparing answer")
	})
	return text, succeeded, nil
}

// runBatch is the batch retry protocol. ok is false when the batch degraded;
// err is only returned for failures that must abort the job.
func (p *QueryJobProcessor) runBatch(ctx context.Context, jobID, query string, b model.Batch, w repository.ArtifactWriter) (text string, ok bool, err error) {
	req, err := p.buildRequest(ctx, query, b)
	if err != nil {
		return "", false, err
	}

	out := Retry(ctx, p.retrier, func(ctx context.Context) (adapter.BatchOutput, error) {
		return p.reasoner.ProcessBatch(ctx, req)
	}, p.onRetry(jobID, fmt.Sprintf("Batch %d/%d", b.Index, b.Total)))

	metrics.IncBatch(out.Kind.String())
	switch out.Kind {
	case OutcomeOK:
		if err := persistBatch(w, req, out.Value); err != nil {
			return "", false, fmt.Errorf("%w: batch %d: %v", domain.ErrFatalJob, b.Index, err)
		}
		p.update(jobID, func(j *model.QueryJob) {
			j.SetPhase(model.PhaseCorrelation)
			j.AddMessage(model.MessageInfo, fmt.Sprintf("Batch %d/%d analyzed (attempt %d)", b.Index, b.Total, out.Attempts))
		})
		return out.Value.Text, true, nil

	case OutcomeDegraded:
		msg := DegradedBatchText(b.Index, out.Reason, out.Attempts, out.Err)
		p.update(jobID, func(j *model.QueryJob) { j.AddMessage(model.MessageError, msg) })
		return msg, false, nil

	default:
		return "", false, fmt.Errorf("%w: batch %d: %v", domain.ErrFatalJob, b.Index, out.Err)
	}
}

// DegradedBatchText is embedded in the job result in place of a batch whose
// retries were exhausted.
func DegradedBatchText(index int, class model.FailureClass, attempts int, cause error) string {
	var what string
	switch class {
	case model.FailureRateLimit:
		what = "rate limit exceeded"
	case model.FailureTransient:
		what = "reasoning service unavailable"
	default:
		what = "processing error"
	}
	return fmt.Sprintf("[Error processing batch %d: %s; retries exhausted after %d attempts: %v]", index, what, attempts, cause)
}

func (p *QueryJobProcessor) onRetry(jobID, label string) func(RetryEvent) {
	return func(ev RetryEvent) {
		metrics.IncRetry(string(ev.Class))
		p.log.Warn().Str("job_id", jobID).Err(ev.Err).Int("attempt", ev.Attempt).Dur("wait", ev.Wait).Msg("reasoning call failed; backing off")
		p.update(jobID, func(j *model.QueryJob) {
			j.AddMessage(model.MessageWarning, fmt.Sprintf("%s: %s on attempt %d, retrying in %.1fs",
				label, ev.Class, ev.Attempt, ev.Wait.Seconds()))
		})
	}
}

func (p *QueryJobProcessor) buildRequest(ctx context.Context, query string, b model.Batch) (adapter.BatchRequest, error) {
	req := adapter.BatchRequest{Query: query, BatchIndex: b.Index, BatchTotal: b.Total}
	for _, name := range b.Targets {
		kind, err := p.corpus.Classify(ctx, name)
		if err != nil {
			return req, fmt.Errorf("%w: classify %s: %v", domain.ErrFatalJob, name, err)
		}
		units, err := p.corpus.GetArtifacts(ctx, name)
		if err != nil {
			return req, fmt.Errorf("%w: load %s: %v", domain.ErrFatalJob, name, err)
		}
		req.Targets = append(req.Targets, adapter.BatchTarget{Name: name, Type: kind, Units: units})
	}
	return req, nil
}

// persistBatch writes what the batch produced. When the reasoner returned no
// per-target artifacts the request's unit records are stored instead.
func persistBatch(w repository.ArtifactWriter, req adapter.BatchRequest, out adapter.BatchOutput) error {
	if err := w.WriteTags(out.Tags); err != nil {
		return err
	}
	targets := out.Targets
	if len(targets) == 0 {
		for _, t := range req.Targets {
			art := model.TargetArtifacts{
				Target:  t.Name,
				Context: fmt.Sprintf("type: %s\nunits: %d", t.Type, len(t.Units)),
			}
			for _, u := range t.Units {
				art.Extractions = append(art.Extractions, model.UnitExtraction{UnitID: u.ID, Text: u.Text})
			}
			targets = append(targets, art)
		}
	}
	for _, t := range targets {
		if err := w.WriteTarget(t); err != nil {
			return err
		}
	}
	return nil
}

// tryCache answers from every qualifying prior fingerprint with one synthesis call.
func (p *QueryJobProcessor) tryCache(ctx context.Context, jobID, query string) (string, bool, error) {
	matches := p.memory.Qualifying(ctx, query, p.cfg.SimilarityThreshold)
	if len(matches) == 0 {
		metrics.IncCacheRequest("query_memory", "miss")
		p.update(jobID, func(j *model.QueryJob) {
			j.AddMessage(model.MessageInfo, "No similar previous query found; running full analysis")
		})
		return "", false, nil
	}
	metrics.IncCacheRequest("query_memory", "hit")

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.FingerprintID)
	}
	p.update(jobID, func(j *model.QueryJob) {
		j.SetTotalBatches(1)
		j.AddMessage(model.MessageInfo, fmt.Sprintf("Cache hit: reusing %d previous result(s) (best score %.2f)", len(matches), matches[0].Score))
	})

	merged, err := p.memory.Merge(ctx, ids)
	if err != nil {
		return "", false, fmt.Errorf("%w: load cached artifacts: %v", domain.ErrFatalJob, err)
	}

	p.update(jobID, func(j *model.QueryJob) {
		j.BeginBatch(1)
		j.SetPhase(model.PhaseSynthesis)
		j.AddMessage(model.MessageInfo, fmt.Sprintf("Synthesis: merging %d tag specification(s) from cache", merged.Tags.Len()))
	})

	out := Retry(ctx, p.retrier, func(ctx context.Context) (string, error) {
		return p.reasoner.Synthesize(ctx, query, merged)
	}, p.onRetry(jobID, "Synthesis"))

	metrics.IncBatch(out.Kind.String())
	switch out.Kind {
	case OutcomeOK:
		p.update(jobID, func(j *model.QueryJob) { j.FinishBatch(1) })
		return out.Value, true, nil
	case OutcomeDegraded:
		msg := DegradedBatchText(1, out.Reason, out.Attempts, out.Err)
		p.update(jobID, func(j *model.QueryJob) { j.AddMessage(model.MessageError, msg) })
		return msg, true, nil
	default:
		return "", false, fmt.Errorf("%w: synthesis: %v", domain.ErrFatalJob, out.Err)
	}
}

// discoverTargets narrows the requested targets to what the corpus holds and,
// when enabled, to what the reasoning service considers relevant.
func (p *QueryJobProcessor) discoverTargets(ctx context.Context, jobID, query string, requested []string) ([]string, error) {
	available, err := p.corpus.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list corpus: %v", domain.ErrFatalJob, err)
	}
	working := FilterAvailable(requested, available)
	if dropped := len(requested) - len(working); dropped > 0 {
		p.update(jobID, func(j *model.QueryJob) {
			j.AddMessage(model.MessageWarning, fmt.Sprintf("Skipping %d unavailable drawing(s)", dropped))
		})
	}
	if len(working) == 0 {
		return nil, domain.ErrNoAvailableTargets
	}

	if p.cfg.SuggestTargets && len(working) > p.cfg.BatchSize {
		suggested, err := p.reasoner.SuggestTargets(ctx, query, working)
		if err != nil {
			p.log.Warn().Str("job_id", jobID).Err(err).Msg("target suggestion failed; keeping requested set")
		} else {
			allowed := make(map[string]struct{}, len(working))
			for _, t := range working {
				allowed[t] = struct{}{}
			}
			if narrowed := FilterAvailable(FilterAvailable(suggested, available), allowed); len(narrowed) > 0 {
				working = narrowed
				p.update(jobID, func(j *model.QueryJob) {
					j.AddMessage(model.MessageInfo, fmt.Sprintf("Discovery: %d relevant drawing(s) selected", len(narrowed)))
				})
			}
		}
	}

	p.update(jobID, func(j *model.QueryJob) {
		j.SetTotalBatches(model.BatchCount(len(working), p.cfg.BatchSize))
	})
	return working, nil
}

// FilterAvailable keeps names present in available, in order, without repeats.
func FilterAvailable(names []string, available map[string]struct{}) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := available[n]; !ok {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func (p *QueryJobProcessor) checkInterrupted(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInterrupted, err)
	}
	if p.interrupter != nil && p.interrupter.Interrupted(jobID) {
		return domain.ErrInterrupted
	}
	return nil
}

func (p *QueryJobProcessor) update(jobID string, fn func(j *model.QueryJob)) {
	if err := p.jobs.Update(jobID, fn); err != nil && !errors.Is(err, domain.ErrNotFound) {
		p.log.Error().Err(err).Str("job_id", jobID).Msg("job update failed")
	}
}
