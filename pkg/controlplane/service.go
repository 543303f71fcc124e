// Package controlplane is the typed surface the external route layer
// calls: one method per operator action, each checked against the
// caller's role and logged under its own request id.
package controlplane

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/WoushouW/woushBOT/pkg/apperr"
	"github.com/WoushouW/woushBOT/pkg/model"
	"github.com/WoushouW/woushBOT/pkg/moderation"
	"github.com/WoushouW/woushBOT/pkg/rbac"
)

// Rooms is the ephemeral room manager as seen by the control plane.
type Rooms interface {
	Create(spec model.ResourceSpec) (model.Resource, error)
	EarlyTerminate(id string) error
	ListActive(scopeID string) ([]model.Resource, error)
	Lookup(id string) (model.Resource, error)
}

// Moderation is the punishment tracker as seen by the control plane.
type Moderation interface {
	Apply(req moderation.PunishmentRequest) (model.Punishment, error)
	Lift(scopeID, subjectID string, kind model.PunishmentKind, moderatorID string) error
	RecordWarning(req moderation.WarningRequest) (moderation.WarningResult, error)
	ClearWarnings(scopeID, subjectID, moderatorID string) (int, error)
	QueryActivePunishments(scopeID string) (moderation.Snapshot, error)
	QueryWarningCount(scopeID, subjectID string) (int, error)
}

// Service implements the control-plane operations.
type Service struct {
	rooms      Rooms
	moderation Moderation
	logger     *slog.Logger
}

// New creates a Service. A nil logger uses slog.Default.
func New(rooms Rooms, mod Moderation, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{rooms: rooms, moderation: mod, logger: logger}
}

// CreatedResource is the reply to a room creation.
type CreatedResource struct {
	ResourceID    string `json:"resource_id"`
	AccessGroupID string `json:"access_group_id"`
}

// PunishmentInput is an applyPunishment request. A nil DurationSeconds
// means indefinite.
type PunishmentInput struct {
	ScopeID         string               `json:"scope_id"`
	SubjectID       string               `json:"subject_id"`
	Kind            model.PunishmentKind `json:"kind"`
	Reason          string               `json:"reason"`
	DurationSeconds *int64               `json:"duration_seconds,omitempty"`
}

func (s *Service) CreateEphemeralResource(c Caller, spec model.ResourceSpec) (CreatedResource, error) {
	var out CreatedResource
	err := s.call("rooms.create", c, model.PermManageRooms, func() error {
		res, err := s.rooms.Create(spec)
		if err != nil {
			return err
		}
		out = CreatedResource{ResourceID: res.ID, AccessGroupID: res.AccessGroupID}
		return nil
	})
	return out, err
}

func (s *Service) TerminateEphemeralResource(c Caller, resourceID string) error {
	return s.call("rooms.terminate", c, model.PermManageRooms, func() error {
		return s.rooms.EarlyTerminate(resourceID)
	})
}

func (s *Service) ListActiveEphemeralResources(c Caller, scopeID string) ([]model.Resource, error) {
	var out []model.Resource
	err := s.call("rooms.list", c, model.PermManageRooms, func() (err error) {
		out, err = s.rooms.ListActive(scopeID)
		return err
	})
	return out, err
}

// LookupEphemeralResource returns an active room or the terminal status
// of a recently finished one.
func (s *Service) LookupEphemeralResource(c Caller, resourceID string) (model.Resource, error) {
	var out model.Resource
	err := s.call("rooms.lookup", c, model.PermManageRooms, func() (err error) {
		out, err = s.rooms.Lookup(resourceID)
		return err
	})
	return out, err
}

func (s *Service) ApplyPunishment(c Caller, in PunishmentInput) (model.Punishment, error) {
	var out model.Punishment
	err := s.call("moderation.apply", c, model.PermModerate, func() error {
		req := moderation.PunishmentRequest{
			ScopeID:     in.ScopeID,
			SubjectID:   in.SubjectID,
			Kind:        in.Kind,
			Reason:      in.Reason,
			ModeratorID: c.ModeratorID,
		}
		if in.DurationSeconds != nil {
			if *in.DurationSeconds <= 0 {
				return apperr.Validation("duration_seconds must be positive")
			}
			req.Duration = time.Duration(*in.DurationSeconds) * time.Second
		}
		var err error
		out, err = s.moderation.Apply(req)
		return err
	})
	return out, err
}

func (s *Service) LiftPunishment(c Caller, scopeID, subjectID string, kind model.PunishmentKind) error {
	return s.call("moderation.lift", c, model.PermModerate, func() error {
		return s.moderation.Lift(scopeID, subjectID, kind, c.ModeratorID)
	})
}

func (s *Service) RecordWarning(c Caller, scopeID, subjectID, reason string) (moderation.WarningResult, error) {
	var out moderation.WarningResult
	err := s.call("moderation.warn", c, model.PermModerate, func() (err error) {
		out, err = s.moderation.RecordWarning(moderation.WarningRequest{
			ScopeID:     scopeID,
			SubjectID:   subjectID,
			Reason:      reason,
			ModeratorID: c.ModeratorID,
		})
		return err
	})
	return out, err
}

func (s *Service) ClearWarnings(c Caller, scopeID, subjectID string) error {
	return s.call("moderation.clear_warnings", c, model.PermModerate, func() error {
		_, err := s.moderation.ClearWarnings(scopeID, subjectID, c.ModeratorID)
		return err
	})
}

func (s *Service) QueryPunishments(c Caller, scopeID string) (moderation.Snapshot, error) {
	var out moderation.Snapshot
	err := s.call("moderation.query", c, model.PermViewModeration, func() (err error) {
		out, err = s.moderation.QueryActivePunishments(scopeID)
		return err
	})
	return out, err
}

func (s *Service) WarningCount(c Caller, scopeID, subjectID string) (int, error) {
	var out int
	err := s.call("moderation.warning_count", c, model.PermViewModeration, func() (err error) {
		out, err = s.moderation.QueryWarningCount(scopeID, subjectID)
		return err
	})
	return out, err
}

func (s *Service) call(op string, c Caller, perm model.Permission, fn func() error) error {
	log := s.logger.With("request_id", uuid.NewString(), "op", op, "role", c.Role.String())

	if c.Role == model.RoleNone {
		log.Warn("control call rejected", "status", Classify(ErrUnauthenticated))
		return ErrUnauthenticated
	}
	if msg := rbac.RequirePermission(c.Role, perm); msg != "" {
		err := fmt.Errorf("%w: %s", ErrForbidden, msg)
		log.Warn("control call rejected", "status", Classify(err), "moderator_id", c.ModeratorID)
		return err
	}

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	if err != nil {
		log.Warn("control call failed", "status", Classify(err), "elapsed", elapsed, "err", err)
		return err
	}
	log.Info("control call", "moderator_id", c.ModeratorID, "elapsed", elapsed)
	return nil
}
