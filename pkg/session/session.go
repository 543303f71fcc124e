package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WoushouW/woushBOT/pkg/platform"
)

// Session binds the platform connection to the loop: every inbound
// event is enqueued and dispatched on the loop goroutine.
type Session struct {
	loop       *Loop
	connector  platform.Connector
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// New creates a session. The loop must be running (or about to be) for
// events to be handled.
func New(loop *Loop, connector platform.Connector, dispatcher *Dispatcher, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{loop: loop, connector: connector, dispatcher: dispatcher, logger: logger}
}

// Start opens the platform connection.
func (s *Session) Start(ctx context.Context) error {
	if err := s.connector.Open(ctx, s.deliver); err != nil {
		return fmt.Errorf("session: start: %w", err)
	}
	s.logger.Info("session connected")
	return nil
}

// Close closes the platform connection.
func (s *Session) Close() error {
	if err := s.connector.Close(); err != nil {
		return fmt.Errorf("session: close: %w", err)
	}
	return nil
}

func (s *Session) deliver(ev platform.Event) {
	err := s.loop.Enqueue(func(ctx context.Context) {
		s.dispatcher.Dispatch(ctx, ev)
	})
	if err != nil {
		s.logger.Debug("event dropped", "kind", string(ev.Kind()), "err", err)
	}
}
