package moderation

import (
	"fmt"
	"strconv"
	"time"

	"github.com/WoushouW/woushBOT/pkg/ledger"
	"github.com/WoushouW/woushBOT/pkg/model"
)

// Audit actions.
const (
	ActionSuspend       = "suspend"
	ActionBan           = "ban"
	ActionUnsuspend     = "unsuspend"
	ActionUnban         = "unban"
	ActionExpire        = "expire"
	ActionWarn          = "warn"
	ActionClearWarnings = "clear_warnings"
	ActionEscalate      = "autoban"
)

func encodePunishment(p model.Punishment) ledger.Row {
	row := make(ledger.Row, ledger.PunishmentColumns)
	row[ledger.PunishmentSubjectID] = p.SubjectID
	row[ledger.PunishmentSubjectLabel] = p.SubjectLabel
	row[ledger.PunishmentKind] = string(p.Kind)
	row[ledger.PunishmentReason] = p.Reason
	row[ledger.PunishmentStartedAt] = ledger.FormatTime(p.StartedAt)
	row[ledger.PunishmentEndsAt] = ledger.FormatTime(p.EndsAt)
	row[ledger.PunishmentScopeID] = p.ScopeID
	row[ledger.PunishmentScopeLabel] = p.ScopeLabel
	row[ledger.PunishmentStatus] = string(p.Status)
	row[ledger.PunishmentModeratorID] = p.ModeratorID
	return row
}

func decodePunishment(row ledger.Row) (model.Punishment, error) {
	p := model.Punishment{
		SubjectID:    row.Cell(ledger.PunishmentSubjectID),
		SubjectLabel: row.Cell(ledger.PunishmentSubjectLabel),
		Reason:       row.Cell(ledger.PunishmentReason),
		ScopeID:      row.Cell(ledger.PunishmentScopeID),
		ScopeLabel:   row.Cell(ledger.PunishmentScopeLabel),
		ModeratorID:  row.Cell(ledger.PunishmentModeratorID),
	}
	if p.SubjectID == "" {
		return model.Punishment{}, fmt.Errorf("moderation: decode punishment: empty subject id")
	}
	var err error
	if p.Kind, err = model.ParsePunishmentKind(row.Cell(ledger.PunishmentKind)); err != nil {
		return model.Punishment{}, fmt.Errorf("moderation: decode punishment %s: %w", p.SubjectID, err)
	}
	if p.Status, err = model.ParsePunishmentStatus(row.Cell(ledger.PunishmentStatus)); err != nil {
		return model.Punishment{}, fmt.Errorf("moderation: decode punishment %s: %w", p.SubjectID, err)
	}
	if p.StartedAt, err = ledger.ParseTime(row.Cell(ledger.PunishmentStartedAt)); err != nil {
		return model.Punishment{}, fmt.Errorf("moderation: decode punishment %s: started_at: %w", p.SubjectID, err)
	}
	if p.EndsAt, err = ledger.ParseTime(row.Cell(ledger.PunishmentEndsAt)); err != nil {
		return model.Punishment{}, fmt.Errorf("moderation: decode punishment %s: ends_at: %w", p.SubjectID, err)
	}
	return p, nil
}

func encodeWarning(w model.Warning) ledger.Row {
	row := make(ledger.Row, ledger.WarningColumns)
	row[ledger.WarningIssuedAt] = ledger.FormatTime(w.IssuedAt)
	row[ledger.WarningSubjectID] = w.SubjectID
	row[ledger.WarningSubjectLabel] = w.SubjectLabel
	row[ledger.WarningModeratorID] = w.ModeratorID
	row[ledger.WarningReason] = w.Reason
	row[ledger.WarningSequence] = strconv.Itoa(w.Sequence)
	row[ledger.WarningScopeID] = w.ScopeID
	row[ledger.WarningScopeLabel] = w.ScopeLabel
	row[ledger.WarningStatus] = string(w.Status)
	return row
}

func decodeWarning(row ledger.Row) (model.Warning, error) {
	w := model.Warning{
		SubjectID:    row.Cell(ledger.WarningSubjectID),
		SubjectLabel: row.Cell(ledger.WarningSubjectLabel),
		ModeratorID:  row.Cell(ledger.WarningModeratorID),
		Reason:       row.Cell(ledger.WarningReason),
		ScopeID:      row.Cell(ledger.WarningScopeID),
		ScopeLabel:   row.Cell(ledger.WarningScopeLabel),
	}
	if w.SubjectID == "" {
		return model.Warning{}, fmt.Errorf("moderation: decode warning: empty subject id")
	}
	var err error
	if w.IssuedAt, err = ledger.ParseTime(row.Cell(ledger.WarningIssuedAt)); err != nil {
		return model.Warning{}, fmt.Errorf("moderation: decode warning %s: issued_at: %w", w.SubjectID, err)
	}
	if w.Sequence, err = strconv.Atoi(row.Cell(ledger.WarningSequence)); err != nil {
		return model.Warning{}, fmt.Errorf("moderation: decode warning %s: sequence: %w", w.SubjectID, err)
	}
	if w.Status, err = model.ParseWarningStatus(row.Cell(ledger.WarningStatus)); err != nil {
		return model.Warning{}, fmt.Errorf("moderation: decode warning %s: %w", w.SubjectID, err)
	}
	return w, nil
}

type auditEntry struct {
	at          time.Time
	action      string
	subject     model.Subject
	scope       model.Scope
	moderatorID string
	reason      string
	duration    time.Duration
}

func encodeAudit(a auditEntry) ledger.Row {
	row := make(ledger.Row, ledger.AuditColumns)
	row[ledger.AuditTimestamp] = ledger.FormatTime(a.at)
	row[ledger.AuditAction] = a.action
	row[ledger.AuditSubjectID] = a.subject.ID
	row[ledger.AuditSubjectLabel] = a.subject.Label
	row[ledger.AuditModeratorID] = a.moderatorID
	row[ledger.AuditReason] = a.reason
	if a.duration > 0 {
		row[ledger.AuditDuration] = strconv.FormatInt(int64(a.duration/time.Second), 10)
	}
	row[ledger.AuditScopeID] = a.scope.ID
	row[ledger.AuditScopeLabel] = a.scope.Label
	return row
}

func matchActivePunishment(k punishmentKey) ledger.Predicate {
	return ledger.All(
		ledger.Match(ledger.PunishmentScopeID, k.scopeID),
		ledger.Match(ledger.PunishmentSubjectID, k.subjectID),
		ledger.Match(ledger.PunishmentKind, string(k.kind)),
		ledger.Match(ledger.PunishmentStatus, string(model.PunishmentActive)),
	)
}

func matchActiveWarnings(k subjectKey) ledger.Predicate {
	return ledger.All(
		ledger.Match(ledger.WarningScopeID, k.scopeID),
		ledger.Match(ledger.WarningSubjectID, k.subjectID),
		ledger.Match(ledger.WarningStatus, string(model.WarningActive)),
	)
}
