package session

import (
	"context"
	"log/slog"

	"github.com/WoushouW/woushBOT/pkg/platform"
)

type handler func(ctx context.Context, ev platform.Event)

// Dispatcher routes inbound events to typed handlers by event kind.
// Register every handler before the session starts.
type Dispatcher struct {
	logger   *slog.Logger
	handlers map[platform.EventKind][]handler
}

// NewDispatcher creates an empty dispatch table.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger, handlers: make(map[platform.EventKind][]handler)}
}

// On registers fn for events of type E. Handlers for one kind run in
// registration order.
func On[E platform.Event](d *Dispatcher, fn func(ctx context.Context, ev E)) {
	var zero E
	kind := zero.Kind()
	d.handlers[kind] = append(d.handlers[kind], func(ctx context.Context, ev platform.Event) {
		typed, ok := ev.(E)
		if !ok {
			d.logger.Error("event type mismatch", "kind", string(kind))
			return
		}
		fn(ctx, typed)
	})
}

// Dispatch runs every handler registered for ev's kind. Loop goroutine only.
func (d *Dispatcher) Dispatch(ctx context.Context, ev platform.Event) {
	hs := d.handlers[ev.Kind()]
	if len(hs) == 0 {
		d.logger.Debug("no handler for event", "kind", string(ev.Kind()))
		return
	}
	for _, h := range hs {
		h(ctx, ev)
	}
}

// Kinds returns the number of event kinds with at least one handler.
func (d *Dispatcher) Kinds() int { return len(d.handlers) }
