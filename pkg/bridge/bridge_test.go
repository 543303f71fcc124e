package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/WoushouW/woushBOT/pkg/apperr"
	"github.com/WoushouW/woushBOT/pkg/session"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBridge(t *testing.T, opts ...Option) *Bridge {
	t.Helper()
	loop := session.NewLoop(session.WithLogger(discard()))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return New(loop, append([]Option{WithLogger(discard())}, opts...)...)
}

func TestSubmitOutcomes(t *testing.T) {
	type tcase struct {
		op       func(ctx context.Context) (int, error)
		want     int
		wantKind error
		wantIs   error
	}

	denied := errors.New("403 missing permissions")
	tcases := map[string]tcase{
		"value": {
			op:   func(context.Context) (int, error) { return 42, nil },
			want: 42,
		},
		"conflict passes through": {
			op:       func(context.Context) (int, error) { return 0, apperr.Conflict("room %q is not active", "r1") },
			wantKind: apperr.ErrConflict,
		},
		"validation passes through": {
			op:       func(context.Context) (int, error) { return 0, apperr.Validation("bad") },
			wantKind: apperr.ErrValidation,
		},
		"platform error wrapped": {
			op:       func(context.Context) (int, error) { return 0, denied },
			wantKind: apperr.ErrExecution,
			wantIs:   denied,
		},
		"panic wrapped": {
			op:       func(context.Context) (int, error) { panic("nil map") },
			wantKind: apperr.ErrExecution,
		},
	}

	b := newBridge(t)
	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			got, err := Submit(b, "test.op", time.Second, tc.op)
			if kind := apperr.KindOf(err); kind != tc.wantKind {
				t.Fatalf("kind = %v, want %v (err %v)", kind, tc.wantKind, err)
			}
			if tc.wantIs != nil && !errors.Is(err, tc.wantIs) {
				t.Errorf("err %v does not wrap %v", err, tc.wantIs)
			}
			if got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestTimeoutDoesNotLoseWork(t *testing.T) {
	var timedOut []string
	var mu sync.Mutex
	b := newBridge(t, WithTimeoutHook(func(name string) {
		mu.Lock()
		defer mu.Unlock()
		timedOut = append(timedOut, name)
	}))

	// Only touched on the loop.
	created := 0
	err := b.Do("rooms.create", 20*time.Millisecond, func(context.Context) error {
		time.Sleep(200 * time.Millisecond)
		created++
		return nil
	})
	if !errors.Is(err, apperr.ErrBridgeTimedOut) {
		t.Fatalf("Do = %v, want ErrBridgeTimedOut", err)
	}

	got, err := Submit(b, "rooms.count", 2*time.Second, func(context.Context) (int, error) {
		return created, nil
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got != 1 {
		t.Errorf("created = %d after timed out create, want 1", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(timedOut) != 1 || timedOut[0] != "rooms.create" {
		t.Errorf("timeout hook calls = %v", timedOut)
	}
}

func TestSubmitRejectsNonPositiveTimeout(t *testing.T) {
	b := newBridge(t)
	ran := false
	err := b.Do("x", 0, func(context.Context) error { ran = true; return nil })
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Do = %v, want ErrValidation", err)
	}
	if ran {
		t.Error("operation ran")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	loop := session.NewLoop(session.WithLogger(discard()))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	cancel()
	<-loop.Done()

	b := New(loop, WithLogger(discard()))
	err := b.Do("x", time.Second, func(context.Context) error { return nil })
	if !errors.Is(err, apperr.ErrExecution) || !errors.Is(err, session.ErrStopped) {
		t.Errorf("Do = %v, want execution error wrapping ErrStopped", err)
	}
}

func TestConcurrentSubmitsAreSerialised(t *testing.T) {
	b := newBridge(t)

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Do("inc", time.Second, func(context.Context) error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()

	got, _ := Submit(b, "read", time.Second, func(context.Context) (int, error) { return counter, nil })
	if got != 50 {
		t.Errorf("counter = %d, want 50", got)
	}
}

func TestTimeoutCoversFullQueue(t *testing.T) {
	loop := session.NewLoop(session.WithLogger(discard()), session.WithQueueSize(1))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	defer func() {
		cancel()
		<-loop.Done()
	}()

	var timeouts []string
	b := New(loop, WithLogger(discard()), WithTimeoutHook(func(name string) { timeouts = append(timeouts, name) }))

	started := make(chan struct{})
	release := make(chan struct{})
	busy := make(chan error, 1)
	go func() {
		busy <- b.Do("busy", 5*time.Second, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	if err := loop.Enqueue(func(context.Context) {}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ran := false
	begin := time.Now()
	err := b.Do("blocked", 50*time.Millisecond, func(context.Context) error {
		ran = true
		return nil
	})
	elapsed := time.Since(begin)
	if !errors.Is(err, apperr.ErrBridgeTimedOut) {
		t.Errorf("Do = %v, want ErrBridgeTimedOut", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("Do returned after %s with a 50ms timeout", elapsed)
	}

	close(release)
	if err := <-busy; err != nil {
		t.Fatalf("busy Do: %v", err)
	}
	if err := b.Do("drain", time.Second, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("drain Do: %v", err)
	}
	if ran {
		t.Error("operation that never got queue space ran")
	}
	if len(timeouts) != 1 || timeouts[0] != "blocked" {
		t.Errorf("timeout hook calls = %v, want [blocked]", timeouts)
	}
}
