// Package ephemeral manages time-boxed, access-controlled rooms: a
// container gated by an access group, deleted when its deadline passes
// or when an operator ends it early.
//
// The registry is owned by the session loop. Public methods marshal onto
// the loop through the bridge; Reconcile and the event handlers run on
// the loop directly. The ledger holds a best-effort projection that is
// read only by Reconcile at startup.
package ephemeral

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

// Scheduler is the deadline side of the session loop.
type Scheduler interface {
	Now() time.Time
	Schedule(at time.Time, task session.Task) *session.Timer
	Cancel(t *session.Timer) bool
}

// Observer receives lifecycle counts, typically for metrics.
type Observer interface {
	ResourceCreated()
	ResourceFinished(status model.ResourceStatus)
	ActiveResources(n int)
}

type nopObserver struct{}

func (nopObserver) ResourceCreated()                      {}
func (nopObserver) ResourceFinished(model.ResourceStatus) {}
func (nopObserver) ActiveResources(int)                   {}

// Config holds the manager settings.
type Config struct {
	ParentContainerID string        // category new containers are created under
	CreateTimeout     time.Duration // bridge wait for Create
	Timeout           time.Duration // bridge wait for everything else
	TombstoneTTL      time.Duration // how long Lookup remembers a finished room
}

// DefaultConfig returns the settings used by the daemon.
func DefaultConfig() Config {
	return Config{
		CreateTimeout: 15 * time.Second,
		Timeout:       10 * time.Second,
		TombstoneTTL:  time.Hour,
	}
}

type entry struct {
	res   model.Resource
	timer *session.Timer
}

type tombstone struct {
	res   model.Resource
	until time.Time
}

// Manager is the ephemeral room lifecycle manager.
type Manager struct {
	cfg      Config
	sched    Scheduler
	bridge   *bridge.Bridge
	platform platform.Platform
	mirror   *ledger.Mirror
	logger   *slog.Logger
	observer Observer

	// Loop goroutine only.
	active     map[string]*entry
	tombstones map[string]tombstone
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// New creates a manager with an empty registry.
func New(cfg Config, sched Scheduler, b *bridge.Bridge, p platform.Platform, mirror *ledger.Mirror, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = def.CreateTimeout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.TombstoneTTL <= 0 {
		cfg.TombstoneTTL = def.TombstoneTTL
	}
	m := &Manager{
		cfg:        cfg,
		sched:      sched,
		bridge:     b,
		platform:   p,
		mirror:     mirror,
		logger:     slog.Default(),
		observer:   nopObserver{},
		active:     make(map[string]*entry),
		tombstones: make(map[string]tombstone),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create validates spec and builds the room. On a bridge timeout the
// room may still be created; list before retrying.
func (m *Manager) Create(spec model.ResourceSpec) (model.Resource, error) {
	spec = spec.Normalize()
	if err := spec.Validate(); err != nil {
		return model.Resource{}, apperr.Invalid("rooms.create", err)
	}
	return bridge.Submit(m.bridge, "rooms.create", m.cfg.CreateTimeout, func(ctx context.Context) (model.Resource, error) {
		return m.create(ctx, spec)
	})
}

// EarlyTerminate ends an active room. A room that is not active, or was
// never known, yields ErrConflict.
func (m *Manager) EarlyTerminate(id string) error {
	return m.bridge.Do("rooms.terminate", m.cfg.Timeout, func(ctx context.Context) error {
		return m.terminate(ctx, id)
	})
}

// ListActive returns the active rooms of scopeID ordered by expiry. An
// empty scopeID lists every scope.
func (m *Manager) ListActive(scopeID string) ([]model.Resource, error) {
	return bridge.Submit(m.bridge, "rooms.list", m.cfg.Timeout, func(context.Context) ([]model.Resource, error) {
		return m.listActive(scopeID), nil
	})
}

// Lookup returns an active room, or a recently finished one with its
// terminal status.
func (m *Manager) Lookup(id string) (model.Resource, error) {
	return bridge.Submit(m.bridge, "rooms.lookup", m.cfg.Timeout, func(context.Context) (model.Resource, error) {
		if e, ok := m.active[id]; ok {
			return cloneResource(e.res), nil
		}
		m.pruneTombstones()
		if ts, ok := m.tombstones[id]; ok {
			return cloneResource(ts.res), nil
		}
		return model.Resource{}, apperr.NotFound("room", id)
	})
}

// RegisterHandlers subscribes the manager to inbound container events.
func (m *Manager) RegisterHandlers(d *session.Dispatcher) {
	session.On(d, m.handleContainerDeleted)
}

func (m *Manager) listActive(scopeID string) []model.Resource {
	out := make([]model.Resource, 0, len(m.active))
	for _, e := range m.active {
		if scopeID != "" && e.res.ScopeID != scopeID {
			continue
		}
		out = append(out, cloneResource(e.res))
	}
	slices.SortFunc(out, func(a, b model.Resource) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (m *Manager) pruneTombstones() {
	now := m.sched.Now()
	for id, ts := range m.tombstones {
		if !now.Before(ts.until) {
			delete(m.tombstones, id)
		}
	}
}

func cloneResource(r model.Resource) model.Resource {
	r.MemberIDs = slices.Clone(r.MemberIDs)
	return r
}
