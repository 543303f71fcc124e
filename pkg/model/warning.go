package model

import (
	"errors"
	"fmt"
	"time"
)

// DefaultWarningThreshold is the active-warning count that triggers an
// automatic ban.
const DefaultWarningThreshold = 3

var ErrUnknownWarningStatus = errors.New("unknown warning status")

// WarningStatus is the state of a warning record.
type WarningStatus string

const (
	WarningActive  WarningStatus = "active"
	WarningCleared WarningStatus = "cleared"
)

// ParseWarningStatus converts a ledger value to a WarningStatus.
func ParseWarningStatus(s string) (WarningStatus, error) {
	switch st := WarningStatus(s); st {
	case WarningActive, WarningCleared:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownWarningStatus, s)
	}
}

// Warning is one moderator warning. Sequence is the ordinal among the
// subject's active warnings at issue time, starting at 1.
type Warning struct {
	ScopeID      string        `json:"scope_id"`
	ScopeLabel   string        `json:"scope_label"`
	SubjectID    string        `json:"subject_id"`
	SubjectLabel string        `json:"subject_label"`
	ModeratorID  string        `json:"moderator_id"`
	Reason       string        `json:"reason"`
	IssuedAt     time.Time     `json:"issued_at"`
	Sequence     int           `json:"sequence"`
	Status       WarningStatus `json:"status"`
}
