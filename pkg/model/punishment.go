package model

import (
	"errors"
	"fmt"
	"time"
)

var ErrUnknownPunishmentKind = errors.New("unknown punishment kind")
var ErrUnknownPunishmentStatus = errors.New("unknown punishment status")

// PunishmentKind is the sanction applied to a subject.
type PunishmentKind string

const (
	PunishmentSuspend PunishmentKind = "suspend" // platform timeout, always time-boxed
	PunishmentBan     PunishmentKind = "ban"
)

// Valid returns true for a recognised kind.
func (k PunishmentKind) Valid() bool {
	return k == PunishmentSuspend || k == PunishmentBan
}

// ParsePunishmentKind converts a string to a PunishmentKind.
func ParsePunishmentKind(s string) (PunishmentKind, error) {
	k := PunishmentKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPunishmentKind, s)
	}
	return k, nil
}

// PunishmentStatus is the state of a punishment record.
type PunishmentStatus string

const (
	PunishmentActive  PunishmentStatus = "active"
	PunishmentLifted  PunishmentStatus = "lifted"
	PunishmentExpired PunishmentStatus = "expired"
)

// ParsePunishmentStatus converts a ledger value to a PunishmentStatus.
func ParsePunishmentStatus(s string) (PunishmentStatus, error) {
	switch st := PunishmentStatus(s); st {
	case PunishmentActive, PunishmentLifted, PunishmentExpired:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPunishmentStatus, s)
	}
}

// Punishment is a sanction against a subject. At most one active record
// exists per (scope, subject, kind).
type Punishment struct {
	ScopeID      string           `json:"scope_id"`
	ScopeLabel   string           `json:"scope_label"`
	SubjectID    string           `json:"subject_id"`
	SubjectLabel string           `json:"subject_label"`
	Kind         PunishmentKind   `json:"kind"`
	Reason       string           `json:"reason"`
	ModeratorID  string           `json:"moderator_id"`
	StartedAt    time.Time        `json:"started_at"`
	EndsAt       time.Time        `json:"ends_at"` // zero = indefinite
	Status       PunishmentStatus `json:"status"`
}

// Indefinite reports whether the punishment has no end time.
func (p Punishment) Indefinite() bool {
	return p.EndsAt.IsZero()
}
