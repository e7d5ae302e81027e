package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"drawing-query/internal/domain/ports/adapter"
	"drawing-query/internal/infra/adapters/reasoning"
)

var _ adapter.AIServiceAdapter = (*NoopAIAdapter)(nil)

const noopModel = "noop-reasoner"

// NoopAIAdapter answers reasoning requests deterministically without any
// remote call. It is meant for local runs and tests.
type NoopAIAdapter struct{}

func NewNoopAIAdapter() *NoopAIAdapter {
	return &NoopAIAdapter{}
}

func (a *NoopAIAdapter) ListModels(ctx context.Context) ([]string, error) {
	return []string{noopModel}, nil
}

func (a *NoopAIAdapter) GetModelInfo(model string) (adapter.ModelInfo, error) {
	return adapter.ModelInfo{
		Name:        noopModel,
		Description: "Deterministic offline reasoner",
		MaxTokens:   1 << 20,
		Supports:    []string{"text"},
	}, nil
}

// CountTokens approximates one token per whitespace-separated word.
func (a *NoopAIAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	n := 0
	for _, m := range messages {
		n += len(strings.Fields(m.Content))
	}
	return n, nil
}

func (a *NoopAIAdapter) Chat(ctx context.Context, model string, messages []adapter.Message) (string, error) {
	reply, _, err := a.ChatWithUsage(ctx, model, messages)
	return reply, err
}

func (a *NoopAIAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	if err := ctx.Err(); err != nil {
		return "", adapter.Usage{}, err
	}
	if len(messages) == 0 {
		return "", adapter.Usage{}, fmt.Errorf("noop: no messages")
	}
	last := messages[len(messages)-1].Content
	var reply any
	if req, ok := reasoning.DecodeRequest(last); ok {
		reply = noopReply(req)
	} else {
		reply = map[string]string{"answer": "noop: " + last}
	}
	b, err := json.Marshal(reply)
	if err != nil {
		return "", adapter.Usage{}, err
	}
	in, _ := a.CountTokens(ctx, model, messages)
	out := len(strings.Fields(string(b)))
	return string(b), adapter.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}, nil
}

func noopReply(req reasoning.Request) reasoning.Reply {
	switch req.Task {
	case reasoning.TaskProcessBatch:
		names := make([]string, 0, len(req.Targets))
		units := 0
		for _, t := range req.Targets {
			names = append(names, t.Name)
			units += len(t.Units)
		}
		return reasoning.Reply{
			Answer: fmt.Sprintf("Batch %d/%d reviewed %s (%d units) for: %s",
				req.Batch, req.Total, strings.Join(names, ", "), units, req.Query),
		}
	case reasoning.TaskSynthesize:
		n := 0
		for _, specs := range req.Tags {
			n += len(specs)
		}
		return reasoning.Reply{
			Answer: fmt.Sprintf("From cache: %d tag specification(s) across %d target(s) for: %s", n, len(req.Artifacts), req.Query),
		}
	case reasoning.TaskScoreSimilarity:
		scores := make(map[string]float64, len(req.Priors))
		q := wordSet(req.Query)
		for _, p := range req.Priors {
			scores[p.ID] = jaccard(q, wordSet(p.Query))
		}
		return reasoning.Reply{Scores: scores}
	case reasoning.TaskSuggestTargets:
		return reasoning.Reply{Suggest: append([]string(nil), req.Candidates...)}
	default:
		return reasoning.Reply{Answer: "noop: unknown task " + req.Task}
	}
}

func wordSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[w] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}
