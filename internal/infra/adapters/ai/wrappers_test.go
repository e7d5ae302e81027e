//go:build !integration

package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"drawing-query/internal/domain"
	"drawing-query/internal/domain/ports/adapter"
)

type fakeLimiter struct {
	allow bool
	err   error
	calls int
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	f.calls++
	return f.allow, f.err
}

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(nil)
	return &l
}

func TestRateLimitedAI_Refuses(t *testing.T) {
	lim := &fakeLimiter{allow: false}
	a := NewRateLimitedAI(NewNoopAIAdapter(), lim, "k", 1, time.Minute, newTestLogger())
	_, err := a.Chat(context.Background(), "", []adapter.Message{{Role: "user", Content: "hi"}})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	if Classify(err) != "rate_limit" {
		t.Fatalf("refusal should classify as rate_limit")
	}
}

func TestRateLimitedAI_FailsOpenOnLimiterError(t *testing.T) {
	lim := &fakeLimiter{err: errors.New("redis down")}
	a := NewRateLimitedAI(NewNoopAIAdapter(), lim, "k", 1, time.Minute, newTestLogger())
	if _, err := a.Chat(context.Background(), "", []adapter.Message{{Role: "user", Content: "hi"}}); err != nil {
		t.Fatalf("limiter error should let the call through: %v", err)
	}
	if lim.calls != 1 {
		t.Fatalf("limiter calls = %d", lim.calls)
	}
}

func TestRateLimitedAI_DisabledWithoutLimit(t *testing.T) {
	inner := NewNoopAIAdapter()
	if got := NewRateLimitedAI(inner, &fakeLimiter{}, "k", 0, time.Minute, newTestLogger()); got != adapter.AIServiceAdapter(inner) {
		t.Fatal("limit 0 should return inner adapter")
	}
}

func TestLimitedAI_ContextCancelledWhileWaiting(t *testing.T) {
	a := NewLimitedAI(NewNoopAIAdapter(), 1).(*limitedAI)
	a.sem <- struct{}{} // occupy the only slot
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Chat(ctx, "", []adapter.Message{{Role: "user", Content: "x"}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
