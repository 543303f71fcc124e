package moderation

import (
	"context"
	"fmt"

	"github.com/WoushouW/woushBOT/pkg/apperr"
	"github.com/WoushouW/woushBOT/pkg/ledger"
	"github.com/WoushouW/woushBOT/pkg/model"
)

// EscalationReason is the ban reason recorded when warnings reach the
// threshold.
func EscalationReason(count int) string {
	return fmt.Sprintf("threshold reached: %d warnings", count)
}

func (t *Tracker) recordWarning(ctx context.Context, req WarningRequest) (WarningResult, error) {
	k := subjectKey{req.ScopeID, req.SubjectID}
	subject, scope, err := t.resolve(ctx, "moderation.warn", k)
	if err != nil {
		return WarningResult{}, err
	}

	now := t.sched.Now()
	w := model.Warning{
		ScopeID:      scope.ID,
		ScopeLabel:   scope.Label,
		SubjectID:    subject.ID,
		SubjectLabel: subject.Label,
		ModeratorID:  req.ModeratorID,
		Reason:       req.Reason,
		IssuedAt:     now,
		Sequence:     len(t.warnings[k]) + 1,
		Status:       model.WarningActive,
	}
	banKey := punishmentKey{k, model.PunishmentBan}
	_, banned := t.punishments[banKey]
	reached := w.Sequence >= t.cfg.WarningThreshold

	// The platform ban is the only step that can fail, so it goes before
	// any state changes: either the whole escalation happens or none of it.
	var ban model.Punishment
	escalate := reached && !banned
	if escalate {
		ban = model.Punishment{
			ScopeID:      scope.ID,
			ScopeLabel:   scope.Label,
			SubjectID:    subject.ID,
			SubjectLabel: subject.Label,
			Kind:         model.PunishmentBan,
			Reason:       EscalationReason(w.Sequence),
			ModeratorID:  AutoModerator,
			StartedAt:    now,
			Status:       model.PunishmentActive,
		}
		if t.cfg.EscalationBan > 0 {
			ban.EndsAt = now.Add(t.cfg.EscalationBan)
		}
		if err := t.platform.Ban(ctx, scope.ID, subject.ID, ban.Reason); err != nil {
			return WarningResult{}, apperr.Execution("moderation.warn", fmt.Errorf("escalation ban %s: %w", subject.ID, err))
		}
	}

	t.warnings[k] = append(t.warnings[k], w)
	t.mirror.Append(ctx, ledger.SheetWarnings, encodeWarning(w))
	t.audit(ctx, auditEntry{
		at:          now,
		action:      ActionWarn,
		subject:     subject,
		scope:       scope,
		moderatorID: req.ModeratorID,
		reason:      req.Reason,
	})
	t.observer.WarningRecorded()
	t.logger.Info("warning recorded", "subject_id", subject.ID, "scope_id", scope.ID, "count", w.Sequence)

	res := WarningResult{Count: w.Sequence}
	switch {
	case escalate:
		t.record(ctx, ban, ActionEscalate)
		t.clearWarnings(ctx, k)
		t.observer.Escalated()
		res.AutoEscalated = true
	case reached:
		// Already banned: nothing to escalate to, but the count must not
		// rest at the threshold.
		t.clearWarnings(ctx, k)
	}
	return res, nil
}

// clearWarnings clears every active warning of k with one ledger rewrite
// and returns how many were cleared.
func (t *Tracker) clearWarnings(ctx context.Context, k subjectKey) int {
	n := len(t.warnings[k])
	if n == 0 {
		return 0
	}
	delete(t.warnings, k)
	t.mirror.UpdateField(ctx, ledger.SheetWarnings, matchActiveWarnings(k), ledger.WarningStatus, string(model.WarningCleared))
	t.logger.Info("warnings cleared", "subject_id", k.subjectID, "scope_id", k.scopeID, "count", n)
	return n
}
