// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Launcher starts every submitted task on its own goroutine immediately and
// keeps track of them so shutdown can wait for running jobs.

type Task = func(ctx context.Context)

type Launcher struct {
	ctx context.Context
	wg  sync.WaitGroup
	log *zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewLauncher binds tasks to ctx; cancelling it asks running tasks to stop.
func NewLauncher(ctx context.Context, logger *zerolog.Logger) *Launcher {
	l := logger.With().Str("component", "Launcher").Logger()
	return &Launcher{ctx: ctx, log: &l}
}

func (l *Launcher) Go(name string, task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.New("launcher closed")
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				l.log.Error().Str("task", name).Interface("panic", r).Msg("task panicked")
			}
		}()
		task(l.ctx)
	}()
	return nil
}

// Close refuses new tasks and waits up to timeout for running ones.
// It reports whether every task finished in time.
func (l *Launcher) Close(timeout time.Duration) bool {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		l.log.Warn().Dur("timeout", timeout).Msg("tasks still running at shutdown")
		return false
	}
}
