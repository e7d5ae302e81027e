//go:build !integration

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweeper) Sweep(ctx context.Context) (int, error) {
	c.calls.Add(1)
	return 2, c.err
}

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(nil)
	return &l
}

func TestScheduler_RunsUntilStopped(t *testing.T) {
	sw := &countingSweeper{}
	s := NewScheduler("test", 5*time.Millisecond, sw, newTestLogger())
	s.Start(context.Background())
	s.Start(context.Background()) // no-op

	deadline := time.Now().Add(2 * time.Second)
	for sw.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	if sw.calls.Load() < 2 {
		t.Fatalf("sweeper ran %d times", sw.calls.Load())
	}
	after := sw.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if sw.calls.Load() != after {
		t.Fatal("sweeper ran after Stop")
	}
	s.Stop() // idempotent
}

func TestScheduler_RunOnceLogsErrors(t *testing.T) {
	sw := &countingSweeper{err: errors.New("boom")}
	s := NewScheduler("test", time.Hour, sw, newTestLogger())
	if n := s.RunOnce(context.Background()); n != 2 || sw.calls.Load() != 1 {
		t.Fatalf("RunOnce = %d, calls = %d", n, sw.calls.Load())
	}
}
