package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"drawing-query/internal/domain"
	"drawing-query/internal/domain/ports/adapter"
	"drawing-query/internal/infra/metrics"
)

// Limiter is satisfied by the redis fixed-window RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

var _ adapter.AIServiceAdapter = (*rateLimitedAI)(nil)

type rateLimitedAI struct {
	inner  adapter.AIServiceAdapter
	lim    Limiter
	key    string
	limit  int
	window time.Duration
	log    *zerolog.Logger
}

// NewRateLimitedAI refuses chat calls with domain.ErrRateLimited once limit
// calls were made within window. A limiter error lets the call through.
func NewRateLimitedAI(inner adapter.AIServiceAdapter, lim Limiter, key string, limit int, window time.Duration, logger *zerolog.Logger) adapter.AIServiceAdapter {
	if lim == nil || limit <= 0 {
		return inner
	}
	l := logger.With().Str("component", "RateLimitedAI").Logger()
	return &rateLimitedAI{inner: inner, lim: lim, key: key, limit: limit, window: window, log: &l}
}

func (r *rateLimitedAI) admit(ctx context.Context) error {
	ok, err := r.lim.Allow(ctx, r.key, r.limit, r.window)
	if err != nil {
		r.log.Warn().Err(err).Msg("rate limiter unavailable; allowing call")
		return nil
	}
	if !ok {
		metrics.IncRateLimited()
		return fmt.Errorf("%w: %d calls per %s", domain.ErrRateLimited, r.limit, r.window)
	}
	return nil
}

func (r *rateLimitedAI) ListModels(ctx context.Context) ([]string, error) {
	return r.inner.ListModels(ctx)
}

func (r *rateLimitedAI) GetModelInfo(model string) (adapter.ModelInfo, error) {
	return r.inner.GetModelInfo(model)
}

func (r *rateLimitedAI) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	return r.inner.CountTokens(ctx, model, messages)
}

func (r *rateLimitedAI) Chat(ctx context.Context, model string, messages []adapter.Message) (string, error) {
	if err := r.admit(ctx); err != nil {
		return "", err
	}
	return r.inner.Chat(ctx, model, messages)
}

func (r *rateLimitedAI) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	if err := r.admit(ctx); err != nil {
		return "", adapter.Usage{}, err
	}
	return r.inner.ChatWithUsage(ctx, model, messages)
}
