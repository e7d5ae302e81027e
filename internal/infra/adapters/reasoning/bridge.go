// Package reasoning turns orchestrator requests into chat calls against an
// AI provider and parses the replies.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"drawing-query/internal/domain/model"
	"drawing-query/internal/domain/ports/adapter"
	"drawing-query/internal/infra/logging"
	"drawing-query/internal/infra/metrics"
)

var _ adapter.Reasoner = (*Bridge)(nil)

const maxTrimRounds = 12

type Bridge struct {
	ai           adapter.AIServiceAdapter
	provider     string
	model        string
	promptTokens int
	log          *zerolog.Logger
}

// NewBridge builds a Reasoner on top of ai. promptTokens bounds one batch
// prompt; zero disables trimming.
func NewBridge(ai adapter.AIServiceAdapter, provider, model string, promptTokens int, logger *zerolog.Logger) *Bridge {
	l := logger.With().Str("component", "ReasoningBridge").Logger()
	return &Bridge{ai: ai, provider: provider, model: model, promptTokens: promptTokens, log: &l}
}

func (b *Bridge) ProcessBatch(ctx context.Context, req adapter.BatchRequest) (adapter.BatchOutput, error) {
	defer logging.TraceDuration(b.log, "Bridge.ProcessBatch")()

	wire := Request{
		Task:  TaskProcessBatch,
		Query: req.Query,
		Batch: req.BatchIndex,
		Total: req.BatchTotal,
	}
	for _, t := range req.Targets {
		wt := WireTarget{Name: t.Name, Type: t.Type}
		for _, u := range t.Units {
			wt.Units = append(wt.Units, WireUnit{ID: u.ID, Text: u.Text})
		}
		wire.Targets = append(wire.Targets, wt)
	}
	if err := b.fitBudget(ctx, &wire); err != nil {
		return adapter.BatchOutput{}, err
	}

	text, err := b.call(ctx, wire)
	if err != nil {
		return adapter.BatchOutput{}, err
	}

	out := adapter.BatchOutput{Text: text}
	reply, perr := ParseReply(text)
	if perr != nil {
		b.log.Debug().Err(perr).Int("batch", req.BatchIndex).Msg("batch reply is not JSON; using raw text")
	} else {
		if reply.Answer != "" {
			out.Text = reply.Answer
		}
		out.Tags = toTagSpecs(reply.Tags)
		out.Targets = toTargetArtifacts(reply.Targets)
	}
	if len(out.Targets) == 0 {
		out.Targets = sentArtifacts(wire.Targets)
	}
	return out, nil
}

func (b *Bridge) Synthesize(ctx context.Context, query string, artifacts model.MergedArtifacts) (string, error) {
	defer logging.TraceDuration(b.log, "Bridge.Synthesize")()

	text, err := b.call(ctx, Request{
		Task:      TaskSynthesize,
		Query:     query,
		Tags:      artifacts.Tags,
		Artifacts: artifacts.Targets,
	})
	if err != nil {
		return "", err
	}
	if reply, perr := ParseReply(text); perr == nil && reply.Answer != "" {
		return reply.Answer, nil
	}
	return strings.TrimSpace(text), nil
}

// ScoreSimilarity returns a score per prior fingerprint id, clamped to [0,1].
// Ids the model invents are dropped.
func (b *Bridge) ScoreSimilarity(ctx context.Context, query string, priors []adapter.PriorQuery) (map[string]float64, error) {
	if len(priors) == 0 {
		return map[string]float64{}, nil
	}
	wire := Request{Task: TaskScoreSimilarity, Query: query}
	known := make(map[string]struct{}, len(priors))
	for _, p := range priors {
		wire.Priors = append(wire.Priors, WirePrior{ID: p.FingerprintID, Query: p.Query})
		known[p.FingerprintID] = struct{}{}
	}
	text, err := b.call(ctx, wire)
	if err != nil {
		return nil, err
	}
	reply, err := ParseReply(text)
	if err != nil {
		return nil, fmt.Errorf("reasoning: similarity reply: %w", err)
	}
	out := make(map[string]float64, len(reply.Scores))
	for id, s := range reply.Scores {
		if _, ok := known[id]; !ok {
			continue
		}
		out[id] = clamp01(s)
	}
	return out, nil
}

// SuggestTargets returns the model's picks in candidate order; names outside
// candidates are dropped.
func (b *Bridge) SuggestTargets(ctx context.Context, query string, candidates []string) ([]string, error) {
	text, err := b.call(ctx, Request{Task: TaskSuggestTargets, Query: query, Candidates: candidates})
	if err != nil {
		return nil, err
	}
	reply, err := ParseReply(text)
	if err != nil {
		return nil, fmt.Errorf("reasoning: suggestion reply: %w", err)
	}
	picked := make(map[string]struct{}, len(reply.Suggest))
	for _, s := range reply.Suggest {
		picked[strings.TrimSpace(s)] = struct{}{}
	}
	out := make([]string, 0, len(picked))
	for _, c := range candidates {
		if _, ok := picked[c]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (b *Bridge) messages(req Request) ([]adapter.Message, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("reasoning: encode %s request: %w", req.Task, err)
	}
	return []adapter.Message{
		{Role: "system", Content: systemPrompts[req.Task]},
		{Role: "user", Content: string(body)},
	}, nil
}

func (b *Bridge) call(ctx context.Context, req Request) (string, error) {
	msgs, err := b.messages(req)
	if err != nil {
		return "", err
	}
	start := time.Now()
	text, usage, err := b.ai.ChatWithUsage(ctx, b.model, msgs)
	metrics.ObserveReasoningCall(req.Task, int(time.Since(start).Milliseconds()), err == nil)
	if err != nil {
		return "", err
	}
	metrics.ObserveTokenUsage(b.provider, b.model, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
	return text, nil
}

// fitBudget halves the longest unit text until the prompt fits. A counting
// failure leaves the request untouched.
func (b *Bridge) fitBudget(ctx context.Context, req *Request) error {
	if b.promptTokens <= 0 {
		return nil
	}
	trimmed := false
	for round := 0; round < maxTrimRounds; round++ {
		msgs, err := b.messages(*req)
		if err != nil {
			return err
		}
		n, err := b.ai.CountTokens(ctx, b.model, msgs)
		if err != nil {
			b.log.Debug().Err(err).Msg("token count unavailable; sending untrimmed prompt")
			return nil
		}
		if n <= b.promptTokens {
			break
		}
		if !halveLongestUnit(req.Targets) {
			break
		}
		trimmed = true
	}
	if trimmed {
		metrics.PromptTrimmed(TaskProcessBatch)
	}
	return nil
}

func halveLongestUnit(targets []WireTarget) bool {
	ti, ui, longest := -1, -1, 0
	for i := range targets {
		for j := range targets[i].Units {
			if l := len(targets[i].Units[j].Text); l > longest {
				ti, ui, longest = i, j, l
			}
		}
	}
	if ti < 0 || longest < 2 {
		return false
	}
	runes := []rune(targets[ti].Units[ui].Text)
	targets[ti].Units[ui].Text = string(runes[:len(runes)/2])
	return true
}

func toTagSpecs(tags []WireTag) []model.TagSpec {
	out := make([]model.TagSpec, 0, len(tags))
	for _, t := range tags {
		tag := strings.TrimSpace(t.Tag)
		if tag == "" {
			continue
		}
		out = append(out, model.TagSpec{
			Tag:        tag,
			Spec:       t.Spec,
			Confidence: model.ParseConfidence(t.Confidence),
			SourceUnit: t.SourceUnit,
		})
	}
	return out
}

func toTargetArtifacts(targets []WireTargetResult) []model.TargetArtifacts {
	out := make([]model.TargetArtifacts, 0, len(targets))
	for _, t := range targets {
		if t.Target == "" {
			continue
		}
		art := model.TargetArtifacts{Target: t.Target, Context: t.Context}
		for _, e := range t.Extractions {
			art.Extractions = append(art.Extractions, model.UnitExtraction{UnitID: e.UnitID, Text: e.Text})
		}
		out = append(out, art)
	}
	return out
}

// sentArtifacts records the unit texts that were actually sent.
func sentArtifacts(targets []WireTarget) []model.TargetArtifacts {
	out := make([]model.TargetArtifacts, 0, len(targets))
	for _, t := range targets {
		art := model.TargetArtifacts{
			Target:  t.Name,
			Context: fmt.Sprintf("type: %s\nunits: %d", t.Type, len(t.Units)),
		}
		for _, u := range t.Units {
			art.Extractions = append(art.Extractions, model.UnitExtraction{UnitID: u.ID, Text: u.Text})
		}
		out = append(out, art)
	}
	return out
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
