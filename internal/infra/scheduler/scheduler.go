package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper is one periodic maintenance pass. It returns how many items it handled.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Scheduler periodically runs a Sweeper.
type Scheduler struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	sweeper  Sweeper
	log      *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler runs sweeper.Sweep every interval. If interval <= 0 it defaults to 1 hour.
func NewScheduler(name string, interval time.Duration, sweeper Sweeper, logger *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	l := logger.With().Str("component", "Scheduler").Str("task", name).Logger()
	return &Scheduler{
		name:     name,
		interval: interval,
		timeout:  30 * time.Second,
		sweeper:  sweeper,
		log:      &l,
		done:     make(chan struct{}),
	}
}

// Start begins the loop in a background goroutine; calling it twice has no effect.
func (s *Scheduler) Start(parentCtx context.Context) {
	if s.ctx != nil {
		return
	}
	ctx, cancel := context.WithCancel(parentCtx)
	s.ctx = ctx
	s.cancel = cancel

	go s.loop(ctx, s.done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopping")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep with a bounded timeout. Errors are logged.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("sweep panicked")
		}
	}()
	n, err := s.sweeper.Sweep(runCtx)
	if err != nil {
		s.log.Error().Err(err).Msg("sweep failed")
		return n
	}
	if n > 0 {
		s.log.Debug().Int("count", n).Msg("sweep done")
	}
	return n
}

// Stop cancels the loop and waits for it to finish. It is idempotent.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.ctx = nil
	s.cancel = nil
	s.done = make(chan struct{})
	s.log.Info().Msg("scheduler stopped")
}
