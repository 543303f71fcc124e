// Package session owns the single execution context every registry
// mutation runs on, and the platform connection feeding it events.
//
// A Loop runs tasks one at a time on one goroutine. Tasks arrive through
// Enqueue from any goroutine, or fire from the loop's deadline heap.
// Because nothing else touches the state a task closes over, that state
// needs no locks; handing a registry to code that runs off the loop
// breaks this.
package session

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/WoushouW/woushBOT/pkg/clock"
)

var (
	ErrStopped        = errors.New("session: loop stopped")
	ErrAlreadyRunning = errors.New("session: loop already running")
)

const DefaultQueueSize = 1024

// Task is a unit of work run on the loop. ctx is the loop's context and
// ends when the loop stops.
type Task func(ctx context.Context)

// Loop is the single cooperative execution context.
type Loop struct {
	clock  clock.Clock
	logger *slog.Logger
	queue  chan Task
	done   chan struct{}

	running atomic.Bool

	// Owned by the loop goroutine.
	timers timerHeap
	seq    uint64
}

// Option configures a Loop.
type Option func(*Loop)

func WithClock(c clock.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

func WithQueueSize(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.queue = make(chan Task, n)
		}
	}
}

// NewLoop creates a stopped loop.
func NewLoop(opts ...Option) *Loop {
	l := &Loop{
		clock:  clock.Real(),
		logger: slog.Default(),
		queue:  make(chan Task, DefaultQueueSize),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Enqueue hands task to the loop. It blocks while the queue is full and
// fails with ErrStopped once Run has returned.
func (l *Loop) Enqueue(task Task) error {
	return l.EnqueueContext(context.Background(), task)
}

// EnqueueContext is Enqueue bounded by ctx. When ctx ends before the queue
// has room, task is dropped and ctx.Err() is returned.
func (l *Loop) EnqueueContext(ctx context.Context, task Task) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.queue <- task:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Now returns the loop clock's time.
func (l *Loop) Now() time.Time { return l.clock.Now() }

// Schedule arranges for task to run on the loop at at. Loop goroutine only.
func (l *Loop) Schedule(at time.Time, task Task) *Timer {
	l.seq++
	t := &Timer{at: at, seq: l.seq, task: task}
	heap.Push(&l.timers, t)
	l.logger.Debug("timer scheduled", "at", at, "pending", len(l.timers))
	return t
}

// Cancel removes a pending timer and reports whether it was pending.
// A timer whose task is already running is unaffected. Loop goroutine only.
func (l *Loop) Cancel(t *Timer) bool {
	if t == nil || !t.Pending() {
		return false
	}
	t.cancelled = true
	if t.index >= 0 {
		heap.Remove(&l.timers, t.index)
	}
	return true
}

// PendingTimers returns the number of scheduled timers. Loop goroutine only.
func (l *Loop) PendingTimers() int { return len(l.timers) }

// Run executes tasks until ctx ends. It returns nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(l.done)

	var (
		wake   <-chan time.Time
		wakeAt time.Time
	)
	for {
		l.fireDue(ctx)

		if next, ok := l.timers.peek(); ok {
			if wake == nil || !next.at.Equal(wakeAt) {
				wakeAt = next.at
				wake = l.clock.After(next.at.Sub(l.clock.Now()))
			}
		} else {
			wake = nil
		}

		select {
		case <-ctx.Done():
			l.logger.Debug("loop stopped", "pending_timers", len(l.timers), "queued", len(l.queue))
			return nil
		case task := <-l.queue:
			l.fireDue(ctx)
			l.run(ctx, task, "task")
		case <-wake:
			wake = nil
		}
	}
}

func (l *Loop) fireDue(ctx context.Context) {
	for {
		t, ok := l.timers.popDue(l.clock.Now())
		if !ok {
			return
		}
		if t.cancelled {
			continue
		}
		t.fired = true
		l.run(ctx, t.task, "timer")
	}
}

func (l *Loop) run(ctx context.Context, task Task, what string) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop "+what+" panicked", "panic", r)
		}
	}()
	task(ctx)
}
