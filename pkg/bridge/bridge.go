// Package bridge runs work submitted from request goroutines on the
// session loop and waits a bounded time for the result.
//
// A timeout bounds only the caller's wait. The operation is not
// cancelled: it keeps running on the loop and its effects show up in
// later queries. Callers must treat ErrBridgeTimedOut as "outcome
// unknown" and re-query before retrying anything that creates.
//
// The same deadline covers waiting for room in the loop's queue. An
// operation that times out there was never submitted and never runs.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WoushouW/woushBOT/pkg/apperr"
	"github.com/WoushouW/woushBOT/pkg/session"
)

// Executor is the execution context operations are marshalled onto.
// *session.Loop implements it.
type Executor interface {
	EnqueueContext(ctx context.Context, task session.Task) error
	Done() <-chan struct{}
}

// Bridge submits operations to an Executor.
type Bridge struct {
	exec      Executor
	logger    *slog.Logger
	onTimeout func(name string)
	onSubmit  func(name string)
}

// Option configures a Bridge.
type Option func(*Bridge)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithTimeoutHook registers fn to be called for every timed out submission.
func WithTimeoutHook(fn func(name string)) Option {
	return func(b *Bridge) { b.onTimeout = fn }
}

// WithSubmitHook registers fn to be called for every submission.
func WithSubmitHook(fn func(name string)) Option {
	return func(b *Bridge) { b.onSubmit = fn }
}

// New creates a Bridge over exec.
func New(exec Executor, opts ...Option) *Bridge {
	b := &Bridge{exec: exec, logger: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	return b
}

type outcome[T any] struct {
	val T
	err error
}

// Submit runs op on the executor and waits up to timeout for its result.
// Errors op returns that already carry a kind (validation, not found,
// conflict) are returned unchanged; any other error, or a panic, comes
// back as ExecutionError.
func Submit[T any](b *Bridge, name string, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return zero, apperr.Validation("%s: bridge timeout must be positive, got %s", name, timeout)
	}
	if b.onSubmit != nil {
		b.onSubmit(name)
	}

	// Buffered so a late op never blocks the loop on an abandoned caller.
	result := make(chan outcome[T], 1)
	task := func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				result <- outcome[T]{err: apperr.Execution(name, fmt.Errorf("panic: %v", r))}
			}
		}()
		v, err := op(ctx)
		if err != nil && !apperr.Classified(err) {
			err = apperr.Execution(name, err)
		}
		result <- outcome[T]{val: v, err: err}
	}

	// The deadline covers queueing too: a saturated loop must not hold
	// the caller past timeout.
	wait, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := b.exec.EnqueueContext(wait, task); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			b.logger.Warn("bridge timed out waiting for queue space, operation not submitted",
				"op", name, "timeout", timeout)
			b.timedOut(name)
			return zero, apperr.TimedOut(name, timeout)
		}
		return zero, apperr.Execution(name, err)
	}

	select {
	case out := <-result:
		return out.val, out.err
	case <-wait.Done():
		b.logger.Warn("bridge wait timed out, operation continues on the session",
			"op", name, "timeout", timeout)
		b.timedOut(name)
		return zero, apperr.TimedOut(name, timeout)
	case <-b.exec.Done():
		// The task may have completed just before the loop stopped.
		select {
		case out := <-result:
			return out.val, out.err
		default:
		}
		return zero, apperr.Execution(name, session.ErrStopped)
	}
}

func (b *Bridge) timedOut(name string) {
	if b.onTimeout != nil {
		b.onTimeout(name)
	}
}

// Do is Submit for operations without a result value.
func (b *Bridge) Do(name string, timeout time.Duration, op func(ctx context.Context) error) error {
	_, err := Submit(b, name, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
