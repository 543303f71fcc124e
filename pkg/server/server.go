// Package server wires the woushbot daemon: one session loop owning the
// platform connection, the room manager and the moderation tracker on
// top of it, the control plane in front, and metrics beside.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WoushouW/woushBOT/pkg/bridge"
	"github.com/WoushouW/woushBOT/pkg/clock"
	"github.com/WoushouW/woushBOT/pkg/controlplane"
	"github.com/WoushouW/woushBOT/pkg/ephemeral"
	"github.com/WoushouW/woushBOT/pkg/ledger"
	"github.com/WoushouW/woushBOT/pkg/logging"
	"github.com/WoushouW/woushBOT/pkg/moderation"
	"github.com/WoushouW/woushBOT/pkg/platform"
	"github.com/WoushouW/woushBOT/pkg/session"
)

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Ledger and will Close() it on shutdown.
type Dependencies struct {
	Ledger    ledger.Ledger
	Platform  platform.Platform
	Connector platform.Connector
	Clock     clock.Clock  // nil = real time
	Logger    *slog.Logger // nil = slog.Default()
}

// Server is the woushbot daemon.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	ledger  ledger.Ledger

	loop       *session.Loop
	session    *session.Session
	rooms      *ephemeral.Manager
	moderation *moderation.Tracker
	control    *controlplane.Service
	auth       *controlplane.Authenticator
}

// New builds the server. Nothing runs until Run.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Ledger == nil {
		return nil, errors.New("server: missing ledger dependency")
	}
	if deps.Platform == nil || deps.Connector == nil {
		return nil, errors.New("server: missing platform dependency")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	auth, err := controlplane.NewAuthenticator(cfg.Control.AdminPIN, cfg.Control.RoomManagerPIN)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		logger:  logging.Component(logger, "server"),
		metrics: NewMetrics(),
		ledger:  deps.Ledger,
		auth:    auth,
	}

	s.loop = session.NewLoop(
		session.WithClock(deps.Clock),
		session.WithLogger(logging.Component(logger, "loop")),
	)
	b := bridge.New(s.loop,
		bridge.WithLogger(logging.Component(logger, "bridge")),
		bridge.WithSubmitHook(s.metrics.BridgeSubmitted),
		bridge.WithTimeoutHook(s.metrics.BridgeTimedOut),
	)
	mirror := ledger.NewMirror(deps.Ledger,
		ledger.WithMirrorLogger(logging.Component(logger, "ledger")),
		ledger.WithMirrorTimeout(cfg.LedgerTimeout),
		ledger.WithFailureHook(s.metrics.LedgerFailed),
	)
	p := platform.Limited(deps.Platform, platform.NewLimiter(cfg.Platform.RatePerSecond, cfg.Platform.Burst))

	s.rooms = ephemeral.New(ephemeral.Config{
		ParentContainerID: cfg.Rooms.CategoryID,
		CreateTimeout:     cfg.Rooms.CreateTimeout,
		Timeout:           cfg.Rooms.Timeout,
		TombstoneTTL:      cfg.Rooms.TombstoneTTL,
	}, s.loop, b, p, mirror,
		ephemeral.WithLogger(logging.Component(logger, "rooms")),
		ephemeral.WithObserver(s.metrics),
	)
	s.moderation = moderation.New(moderation.Config{
		Timeout:          cfg.Moderation.Timeout,
		WarningThreshold: cfg.Moderation.WarningThreshold,
		EscalationBan:    cfg.Moderation.EscalationBan,
		MaxSuspend:       cfg.Moderation.MaxSuspend,
	}, s.loop, b, p, mirror,
		moderation.WithLogger(logging.Component(logger, "moderation")),
		moderation.WithObserver(s.metrics),
	)

	d := session.NewDispatcher(logging.Component(logger, "dispatch"))
	session.On(d, s.handleReady)
	s.rooms.RegisterHandlers(d)
	s.moderation.RegisterHandlers(d)
	s.session = session.New(s.loop, deps.Connector, d, logging.Component(logger, "session"))

	s.control = controlplane.New(s.rooms, s.moderation, logging.Component(logger, "control"))
	return s, nil
}

// handleReady restores state once the platform connection is up. It runs
// on the loop; a reconnect runs it again and only picks up what is new.
func (s *Server) handleReady(ctx context.Context, ev platform.ReadyEvent) {
	s.logger.Info("platform ready", "scopes", len(ev.ScopeIDs))

	report, err := s.rooms.Reconcile(ctx)
	if err != nil {
		s.logger.Warn("room reconciliation skipped", "err", err)
	} else {
		s.logger.Info("rooms reconciled",
			"restored", report.Restored, "expired", report.Expired,
			"orphaned", report.Orphaned, "skipped", report.Skipped)
	}
	if err := s.moderation.Rehydrate(ctx); err != nil {
		s.logger.Warn("moderation state not restored", "err", err)
	}
}

// Control returns the control-plane service for the route layer.
func (s *Server) Control() *controlplane.Service { return s.control }

// Authenticator returns the operator PIN checker.
func (s *Server) Authenticator() *controlplane.Authenticator { return s.auth }

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }
