// File: internal/infra/adapters/ai/multi_adapter.go
package ai

import (
	"context"
	"errors"
	"sort"
	"strings"

	"drawing-query/internal/domain/ports/adapter"
)

var _ adapter.AIServiceAdapter = (*MultiAIAdapter)(nil)

// Provider keys accepted in config ai.provider.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderNoop   = "noop"
)

var errNoProvider = errors.New("ai: no provider configured")

// modelFamilies maps a lower-cased model name prefix to the provider serving it.
var modelFamilies = []struct{ prefix, provider string }{
	{"gemini", ProviderGemini},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"noop", ProviderNoop},
}

// MultiAIAdapter sends each reasoning call to the provider owning the model.
// Resolution order: explicit overrides, model family prefix, the configured
// provider, then the first registered provider by key.
type MultiAIAdapter struct {
	fallback  string
	providers map[string]adapter.AIServiceAdapter
	overrides map[string]string
	order     []string
}

// NewMultiAIAdapter registers providers by key. Nil entries are ignored.
// overrides pins individual model names to a provider and may be nil.
func NewMultiAIAdapter(fallback string, providers map[string]adapter.AIServiceAdapter, overrides map[string]string) *MultiAIAdapter {
	m := &MultiAIAdapter{
		fallback:  strings.ToLower(fallback),
		providers: make(map[string]adapter.AIServiceAdapter, len(providers)),
		overrides: make(map[string]string, len(overrides)),
	}
	for key, a := range providers {
		if a == nil {
			continue
		}
		key = strings.ToLower(key)
		m.providers[key] = a
		m.order = append(m.order, key)
	}
	sort.Strings(m.order)
	for model, key := range overrides {
		m.overrides[strings.ToLower(model)] = strings.ToLower(key)
	}
	return m
}

// ProviderFor names the provider a call for model would reach, or "" when none is registered.
func (m *MultiAIAdapter) ProviderFor(model string) string {
	name := strings.ToLower(strings.TrimSpace(model))
	candidates := make([]string, 0, 3)
	if key, ok := m.overrides[name]; ok {
		candidates = append(candidates, key)
	}
	for _, f := range modelFamilies {
		if strings.HasPrefix(name, f.prefix) {
			candidates = append(candidates, f.provider)
			break
		}
	}
	candidates = append(candidates, m.fallback)
	for _, key := range candidates {
		if _, ok := m.providers[key]; ok {
			return key
		}
	}
	if len(m.order) > 0 {
		return m.order[0]
	}
	return ""
}

func (m *MultiAIAdapter) route(model string) (adapter.AIServiceAdapter, error) {
	key := m.ProviderFor(model)
	if key == "" {
		return nil, errNoProvider
	}
	return m.providers[key], nil
}

// ListModels merges pinned model names with every provider's own list,
// sorted. A provider that cannot list its models is skipped.
func (m *MultiAIAdapter) ListModels(ctx context.Context) ([]string, error) {
	if len(m.providers) == 0 {
		return nil, errNoProvider
	}
	set := make(map[string]struct{}, len(m.overrides))
	for model := range m.overrides {
		set[model] = struct{}{}
	}
	for _, key := range m.order {
		names, err := m.providers[key].ListModels(ctx)
		if err != nil {
			continue
		}
		for _, n := range names {
			if n != "" {
				set[n] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MultiAIAdapter) GetModelInfo(model string) (adapter.ModelInfo, error) {
	a, err := m.route(model)
	if err != nil {
		return adapter.ModelInfo{}, err
	}
	return a.GetModelInfo(model)
}

func (m *MultiAIAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	a, err := m.route(model)
	if err != nil {
		return 0, err
	}
	return a.CountTokens(ctx, model, messages)
}

func (m *MultiAIAdapter) Chat(ctx context.Context, model string, messages []adapter.Message) (string, error) {
	a, err := m.route(model)
	if err != nil {
		return "", err
	}
	return a.Chat(ctx, model, messages)
}

func (m *MultiAIAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	a, err := m.route(model)
	if err != nil {
		return "", adapter.Usage{}, err
	}
	return a.ChatWithUsage(ctx, model, messages)
}
