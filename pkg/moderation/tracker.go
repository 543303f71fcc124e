// Package moderation tracks punishments and warnings and escalates a
// subject to a ban when their active warnings reach the threshold.
//
// All state lives on the session loop. Each public operation is a single
// loop task, so operations on one subject are totally ordered and the
// escalation step (ban plus clearing the warnings) is never interleaved
// with a manual unban or a concurrent warning. Ledger writes are a
// best-effort mirror; the ledger is read once, by Rehydrate.
package moderation

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/WoushouW/woushBOT/pkg/apperr"
	"github.com/WoushouW/woushBOT/pkg/bridge"
	"github.com/WoushouW/woushBOT/pkg/ledger"
	"github.com/WoushouW/woushBOT/pkg/model"
	"github.com/WoushouW/woushBOT/pkg/platform"
	"github.com/WoushouW/woushBOT/pkg/session"
)

// AutoModerator is the moderator id recorded for actions the tracker
// takes on its own.
const AutoModerator = "auto"

// Scheduler is the deadline side of the session loop.
type Scheduler interface {
	Now() time.Time
	Schedule(at time.Time, task session.Task) *session.Timer
	Cancel(t *session.Timer) bool
}

// Observer receives moderation counts, typically for metrics.
type Observer interface {
	PunishmentApplied(kind model.PunishmentKind)
	PunishmentEnded(kind model.PunishmentKind, status model.PunishmentStatus)
	WarningRecorded()
	Escalated()
}

type nopObserver struct{}

func (nopObserver) PunishmentApplied(model.PunishmentKind)                       {}
func (nopObserver) PunishmentEnded(model.PunishmentKind, model.PunishmentStatus) {}
func (nopObserver) WarningRecorded()                                             {}
func (nopObserver) Escalated()                                                   {}

// Config holds the tracker settings.
type Config struct {
	Timeout          time.Duration // bridge wait per operation
	WarningThreshold int
	EscalationBan    time.Duration // length of the automatic ban; 0 = indefinite
	MaxSuspend       time.Duration
}

// DefaultConfig returns the settings used by the daemon.
func DefaultConfig() Config {
	return Config{
		Timeout:          10 * time.Second,
		WarningThreshold: model.DefaultWarningThreshold,
		EscalationBan:    24 * time.Hour,
		MaxSuspend:       28 * 24 * time.Hour,
	}
}

type subjectKey struct {
	scopeID, subjectID string
}

type punishmentKey struct {
	subjectKey
	kind model.PunishmentKind
}

type activePunishment struct {
	rec   model.Punishment
	timer *session.Timer
}

// Tracker is the punishment and escalation tracker.
type Tracker struct {
	cfg      Config
	sched    Scheduler
	bridge   *bridge.Bridge
	platform platform.Platform
	mirror   *ledger.Mirror
	logger   *slog.Logger
	observer Observer

	// Loop goroutine only.
	punishments map[punishmentKey]*activePunishment
	warnings    map[subjectKey][]model.Warning
	rehydrated  bool
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func WithObserver(o Observer) Option {
	return func(t *Tracker) {
		if o != nil {
			t.observer = o
		}
	}
}

// New creates a tracker with empty state.
func New(cfg Config, sched Scheduler, b *bridge.Bridge, p platform.Platform, mirror *ledger.Mirror, opts ...Option) *Tracker {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.WarningThreshold < 1 {
		cfg.WarningThreshold = def.WarningThreshold
	}
	if cfg.MaxSuspend <= 0 {
		cfg.MaxSuspend = def.MaxSuspend
	}
	t := &Tracker{
		cfg:         cfg,
		sched:       sched,
		bridge:      b,
		platform:    p,
		mirror:      mirror,
		logger:      slog.Default(),
		observer:    nopObserver{},
		punishments: make(map[punishmentKey]*activePunishment),
		warnings:    make(map[subjectKey][]model.Warning),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// PunishmentRequest asks for a sanction. A zero Duration is indefinite,
// which only bans allow.
type PunishmentRequest struct {
	ScopeID     string
	SubjectID   string
	Kind        model.PunishmentKind
	Reason      string
	ModeratorID string
	Duration    time.Duration
}

func (r PunishmentRequest) validate(cfg Config) error {
	if r.ScopeID == "" || r.SubjectID == "" {
		return apperr.Validation("scope and subject are required")
	}
	if !r.Kind.Valid() {
		return apperr.Invalid("moderation.apply", model.ErrUnknownPunishmentKind)
	}
	if r.Duration < 0 {
		return apperr.Validation("duration must not be negative")
	}
	if r.Kind == model.PunishmentSuspend && (r.Duration == 0 || r.Duration > cfg.MaxSuspend) {
		return apperr.Validation("suspension needs a duration up to %s", cfg.MaxSuspend)
	}
	return nil
}

// WarningRequest records one warning.
type WarningRequest struct {
	ScopeID     string
	SubjectID   string
	Reason      string
	ModeratorID string
}

// WarningResult reports the subject's active warning count after the
// warning, and whether it triggered the automatic ban.
type WarningResult struct {
	Count         int  `json:"count"`
	AutoEscalated bool `json:"auto_escalated"`
}

// WarningSummary is one subject's active warnings.
type WarningSummary struct {
	SubjectLabel string          `json:"subject_label"`
	Count        int             `json:"count"`
	Warnings     []model.Warning `json:"warnings"`
}

// Snapshot is the active moderation state of a scope.
type Snapshot struct {
	Suspensions []model.Punishment        `json:"suspensions"`
	Bans        []model.Punishment        `json:"bans"`
	Warnings    map[string]WarningSummary `json:"warnings"` // by subject id
}

// Apply creates a punishment. An active punishment of the same kind for
// the subject yields ErrConflict.
func (t *Tracker) Apply(req PunishmentRequest) (model.Punishment, error) {
	if err := req.validate(t.cfg); err != nil {
		return model.Punishment{}, err
	}
	return bridge.Submit(t.bridge, "moderation.apply", t.cfg.Timeout, func(ctx context.Context) (model.Punishment, error) {
		return t.apply(ctx, req)
	})
}

// Lift ends the subject's active punishment of kind. No active
// punishment yields ErrNotFound.
func (t *Tracker) Lift(scopeID, subjectID string, kind model.PunishmentKind, moderatorID string) error {
	if !kind.Valid() {
		return apperr.Invalid("moderation.lift", model.ErrUnknownPunishmentKind)
	}
	return t.bridge.Do("moderation.lift", t.cfg.Timeout, func(ctx context.Context) error {
		return t.lift(ctx, punishmentKey{subjectKey{scopeID, subjectID}, kind}, moderatorID)
	})
}

// RecordWarning adds a warning and escalates at the threshold.
func (t *Tracker) RecordWarning(req WarningRequest) (WarningResult, error) {
	if req.ScopeID == "" || req.SubjectID == "" {
		return WarningResult{}, apperr.Validation("scope and subject are required")
	}
	return bridge.Submit(t.bridge, "moderation.warn", t.cfg.Timeout, func(ctx context.Context) (WarningResult, error) {
		return t.recordWarning(ctx, req)
	})
}

// ClearWarnings clears the subject's active warnings and returns how many
// were cleared.
func (t *Tracker) ClearWarnings(scopeID, subjectID, moderatorID string) (int, error) {
	return bridge.Submit(t.bridge, "moderation.clear_warnings", t.cfg.Timeout, func(ctx context.Context) (int, error) {
		k := subjectKey{scopeID, subjectID}
		ws := t.warnings[k]
		if len(ws) == 0 {
			return 0, nil
		}
		n := t.clearWarnings(ctx, k)
		t.audit(ctx, auditEntry{
			action:      ActionClearWarnings,
			subject:     model.Subject{ID: subjectID, Label: ws[0].SubjectLabel},
			scope:       model.Scope{ID: scopeID, Label: ws[0].ScopeLabel},
			moderatorID: moderatorID,
		})
		return n, nil
	})
}

// QueryActivePunishments returns the active state of scopeID. An empty
// scopeID covers every scope.
func (t *Tracker) QueryActivePunishments(scopeID string) (Snapshot, error) {
	return bridge.Submit(t.bridge, "moderation.query", t.cfg.Timeout, func(context.Context) (Snapshot, error) {
		return t.snapshot(scopeID), nil
	})
}

// QueryWarningCount returns the subject's active warning count.
func (t *Tracker) QueryWarningCount(scopeID, subjectID string) (int, error) {
	return bridge.Submit(t.bridge, "moderation.warning_count", t.cfg.Timeout, func(context.Context) (int, error) {
		return len(t.warnings[subjectKey{scopeID, subjectID}]), nil
	})
}

// RegisterHandlers subscribes the tracker to inbound ban events.
func (t *Tracker) RegisterHandlers(d *session.Dispatcher) {
	session.On(d, t.handleBanRemoved)
}

func (t *Tracker) snapshot(scopeID string) Snapshot {
	snap := Snapshot{
		Suspensions: []model.Punishment{},
		Bans:        []model.Punishment{},
		Warnings:    make(map[string]WarningSummary),
	}
	for k, ap := range t.punishments {
		if scopeID != "" && k.scopeID != scopeID {
			continue
		}
		switch k.kind {
		case model.PunishmentSuspend:
			snap.Suspensions = append(snap.Suspensions, ap.rec)
		case model.PunishmentBan:
			snap.Bans = append(snap.Bans, ap.rec)
		}
	}
	byStart := func(a, b model.Punishment) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SubjectID, b.SubjectID)
	}
	slices.SortFunc(snap.Suspensions, byStart)
	slices.SortFunc(snap.Bans, byStart)

	for k, ws := range t.warnings {
		if len(ws) == 0 || (scopeID != "" && k.scopeID != scopeID) {
			continue
		}
		snap.Warnings[k.subjectID] = WarningSummary{
			SubjectLabel: ws[len(ws)-1].SubjectLabel,
			Count:        len(ws),
			Warnings:     slices.Clone(ws),
		}
	}
	return snap
}

func (t *Tracker) audit(ctx context.Context, a auditEntry) {
	if a.at.IsZero() {
		a.at = t.sched.Now()
	}
	t.mirror.Append(ctx, ledger.SheetModeration, encodeAudit(a))
}
