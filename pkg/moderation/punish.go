package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/WoushouW/woushBOT/pkg/apperr"
	"github.com/WoushouW/woushBOT/pkg/ledger"
	"github.com/WoushouW/woushBOT/pkg/model"
	"github.com/WoushouW/woushBOT/pkg/platform"
)

// Everything in this file runs on the loop.

// resolve looks up the subject and scope labels. An unknown subject is
// ErrNotFound.
func (t *Tracker) resolve(ctx context.Context, op string, k subjectKey) (model.Subject, model.Scope, error) {
	subject, err := t.platform.ResolveSubject(ctx, k.scopeID, k.subjectID)
	if errors.Is(err, platform.ErrNotFound) {
		return model.Subject{}, model.Scope{}, apperr.NotFound("member", k.subjectID)
	} else if err != nil {
		return model.Subject{}, model.Scope{}, apperr.Execution(op, err)
	}
	scope, err := t.platform.ResolveScope(ctx, k.scopeID)
	if errors.Is(err, platform.ErrNotFound) {
		return model.Subject{}, model.Scope{}, apperr.NotFound("scope", k.scopeID)
	} else if err != nil {
		return model.Subject{}, model.Scope{}, apperr.Execution(op, err)
	}
	return subject, scope, nil
}

func (t *Tracker) apply(ctx context.Context, req PunishmentRequest) (model.Punishment, error) {
	const op = "moderation.apply"
	k := punishmentKey{subjectKey{req.ScopeID, req.SubjectID}, req.Kind}
	if _, ok := t.punishments[k]; ok {
		return model.Punishment{}, apperr.Conflict("%s already active for %s", req.Kind, req.SubjectID)
	}

	subject, scope, err := t.resolve(ctx, op, k.subjectKey)
	if err != nil {
		return model.Punishment{}, err
	}

	now := t.sched.Now()
	rec := model.Punishment{
		ScopeID:      scope.ID,
		ScopeLabel:   scope.Label,
		SubjectID:    subject.ID,
		SubjectLabel: subject.Label,
		Kind:         req.Kind,
		Reason:       req.Reason,
		ModeratorID:  req.ModeratorID,
		StartedAt:    now,
		Status:       model.PunishmentActive,
	}
	if req.Duration > 0 {
		rec.EndsAt = now.Add(req.Duration)
	}

	switch req.Kind {
	case model.PunishmentSuspend:
		err = t.platform.Suspend(ctx, scope.ID, subject.ID, rec.EndsAt, req.Reason)
	case model.PunishmentBan:
		err = t.platform.Ban(ctx, scope.ID, subject.ID, req.Reason)
	}
	if err != nil {
		return model.Punishment{}, apperr.Execution(op, fmt.Errorf("%s %s: %w", req.Kind, subject.ID, err))
	}

	t.record(ctx, rec, string(req.Kind))
	if req.Kind == model.PunishmentBan {
		t.clearWarnings(ctx, k.subjectKey)
	}
	return rec, nil
}

// record registers an applied punishment, mirrors it and schedules its
// expiry. The platform call has already succeeded.
func (t *Tracker) record(ctx context.Context, rec model.Punishment, action string) {
	t.register(rec)

	t.mirror.Append(ctx, ledger.SheetPunishments, encodePunishment(rec))
	t.audit(ctx, auditEntry{
		at:          rec.StartedAt,
		action:      action,
		subject:     model.Subject{ID: rec.SubjectID, Label: rec.SubjectLabel},
		scope:       model.Scope{ID: rec.ScopeID, Label: rec.ScopeLabel},
		moderatorID: rec.ModeratorID,
		reason:      rec.Reason,
		duration:    rec.EndsAt.Sub(rec.StartedAt),
	})
	t.observer.PunishmentApplied(rec.Kind)

	t.logger.Info("punishment applied",
		"kind", string(rec.Kind), "subject_id", rec.SubjectID, "scope_id", rec.ScopeID,
		"moderator_id", rec.ModeratorID, "ends_at", rec.EndsAt)
}

func (t *Tracker) register(rec model.Punishment) *activePunishment {
	k := punishmentKey{subjectKey{rec.ScopeID, rec.SubjectID}, rec.Kind}
	ap := &activePunishment{rec: rec}
	if !rec.Indefinite() {
		ap.timer = t.sched.Schedule(rec.EndsAt, func(ctx context.Context) {
			t.expire(ctx, k, ap)
		})
	}
	t.punishments[k] = ap
	return ap
}

func (t *Tracker) lift(ctx context.Context, k punishmentKey, moderatorID string) error {
	ap, ok := t.punishments[k]
	if !ok {
		return apperr.NotFound("active "+string(k.kind), k.subjectID)
	}

	var err error
	switch k.kind {
	case model.PunishmentSuspend:
		err = t.platform.Unsuspend(ctx, k.scopeID, k.subjectID)
	case model.PunishmentBan:
		err = t.platform.Unban(ctx, k.scopeID, k.subjectID)
	}
	if err != nil && !errors.Is(err, platform.ErrNotFound) {
		return apperr.Execution("moderation.lift", fmt.Errorf("lift %s %s: %w", k.kind, k.subjectID, err))
	}

	action := ActionUnsuspend
	if k.kind == model.PunishmentBan {
		action = ActionUnban
	}
	t.end(ctx, k, ap, model.PunishmentLifted, action, moderatorID)
	return nil
}

func (t *Tracker) expire(ctx context.Context, k punishmentKey, ap *activePunishment) {
	if t.punishments[k] != ap {
		return
	}
	// Timeouts lapse on the platform by themselves; bans do not.
	if k.kind == model.PunishmentBan {
		if err := t.platform.Unban(ctx, k.scopeID, k.subjectID); err != nil && !errors.Is(err, platform.ErrNotFound) {
			t.logger.Warn("expired ban could not be lifted on the platform",
				"subject_id", k.subjectID, "scope_id", k.scopeID, "err", err)
		}
	}
	t.end(ctx, k, ap, model.PunishmentExpired, ActionExpire, AutoModerator)
}

func (t *Tracker) end(ctx context.Context, k punishmentKey, ap *activePunishment, status model.PunishmentStatus, action, moderatorID string) {
	t.sched.Cancel(ap.timer)
	delete(t.punishments, k)

	t.mirror.UpdateField(ctx, ledger.SheetPunishments, matchActivePunishment(k), ledger.PunishmentStatus, string(status))
	t.audit(ctx, auditEntry{
		action:      action,
		subject:     model.Subject{ID: ap.rec.SubjectID, Label: ap.rec.SubjectLabel},
		scope:       model.Scope{ID: ap.rec.ScopeID, Label: ap.rec.ScopeLabel},
		moderatorID: moderatorID,
		reason:      string(k.kind),
	})
	t.observer.PunishmentEnded(k.kind, status)

	t.logger.Info("punishment ended",
		"kind", string(k.kind), "subject_id", k.subjectID, "scope_id", k.scopeID, "status", string(status))
}

func (t *Tracker) handleBanRemoved(ctx context.Context, ev platform.BanRemovedEvent) {
	k := punishmentKey{subjectKey{ev.ScopeID, ev.SubjectID}, model.PunishmentBan}
	ap, ok := t.punishments[k]
	if !ok {
		return
	}
	t.logger.Info("ban lifted outside the bot", "subject_id", ev.SubjectID, "scope_id", ev.ScopeID)
	t.end(ctx, k, ap, model.PunishmentLifted, ActionUnban, "platform")
}
