package worker

import (
	"context"
	"math"
	"math/rand"
	"time"

	"drawing-query/internal/domain/model"
)

// OutcomeKind tags the result of a retried remote call.
type OutcomeKind int

const (
	// OutcomeOK carries the real result.
	OutcomeOK OutcomeKind = iota
	// OutcomeDegraded means retries were exhausted; the caller embeds a
	// failure description instead of failing the job.
	OutcomeDegraded
	// OutcomeFatal must abort the job.
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeDegraded:
		return "degraded"
	default:
		return "fatal"
	}
}

type Outcome[T any] struct {
	Kind     OutcomeKind
	Value    T
	Reason   model.FailureClass
	Attempts int
	Err      error
}

// RetryPolicy bounds the exponential backoff: the wait before retry n is
// min(Cap, Base * 2^n * (0.8 + 0.4u)) with u uniform in [0,1).
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Base: time.Second, Cap: 120 * time.Second}
}

func (p RetryPolicy) Backoff(retry int, u float64) time.Duration {
	if retry <= 0 {
		return 0
	}
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(retry)) * (0.8 + 0.4*u))
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	return d
}

// Classifier maps an error from a remote call onto a failure class.
type Classifier func(err error) model.FailureClass

// RetryEvent is reported before each backoff sleep.
type RetryEvent struct {
	Attempt int // 1-based retry count
	Class   model.FailureClass
	Wait    time.Duration
	Err     error
}

// Retrier runs a fallible remote operation under a RetryPolicy.
type Retrier struct {
	policy   RetryPolicy
	classify Classifier
	rand     func() float64
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewRetrier(policy RetryPolicy, classify Classifier) *Retrier {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if classify == nil {
		classify = func(error) model.FailureClass { return model.FailureOther }
	}
	return &Retrier{
		policy:   policy,
		classify: classify,
		rand:     rand.Float64,
		sleep:    sleepCtx,
	}
}

// WithClock replaces the jitter source and the sleeper; nil keeps the current one.
func (r *Retrier) WithClock(randFn func() float64, sleep func(ctx context.Context, d time.Duration) error) *Retrier {
	cp := *r
	if randFn != nil {
		cp.rand = randFn
	}
	if sleep != nil {
		cp.sleep = sleep
	}
	return &cp
}

func (r *Retrier) Policy() RetryPolicy { return r.policy }

// Retry runs op up to MaxAttempts times. It never returns an error: exhaustion
// yields OutcomeDegraded, a fatal class or a cancelled context OutcomeFatal.
func Retry[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error), onRetry func(RetryEvent)) Outcome[T] {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return Outcome[T]{Kind: OutcomeOK, Value: v, Attempts: attempt}
		}
		if ctx.Err() != nil {
			return Outcome[T]{Kind: OutcomeFatal, Value: zero, Reason: model.FailureFatal, Attempts: attempt, Err: ctx.Err()}
		}
		class := r.classify(err)
		if !class.Retryable() {
			return Outcome[T]{Kind: OutcomeFatal, Value: zero, Reason: class, Attempts: attempt, Err: err}
		}
		if attempt >= r.policy.MaxAttempts {
			return Outcome[T]{Kind: OutcomeDegraded, Value: zero, Reason: class, Attempts: attempt, Err: err}
		}

		wait := r.policy.Backoff(attempt, r.rand())
		if onRetry != nil {
			onRetry(RetryEvent{Attempt: attempt, Class: class, Wait: wait, Err: err})
		}
		if err := r.sleep(ctx, wait); err != nil {
			return Outcome[T]{Kind: OutcomeFatal, Value: zero, Reason: model.FailureFatal, Attempts: attempt, Err: err}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
