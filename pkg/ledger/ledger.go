// Package ledger defines the durable flat-record store the managers mirror
// their state into.
//
// A ledger is a set of named sheets holding rows of string cells. It has
// no transactional guarantee across calls: a caller issuing several
// writes must order them so that re-running the sequence after a partial
// failure converges on the same state. The managers keep their own state
// in memory and treat the ledger as a best-effort mirror (see Mirror),
// reading it only at startup.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Sheet names a group of rows sharing one column layout.
type Sheet string

const (
	SheetResources   Sheet = "temp_rooms"
	SheetPunishments Sheet = "punishments"
	SheetWarnings    Sheet = "warnings"
	SheetModeration  Sheet = "moderation"
)

// ErrUnavailable is returned by a ledger that cannot be reached.
var ErrUnavailable = errors.New("ledger: unavailable")

// Row is one flat record. Cell positions are given by the column
// constants for the row's sheet.
type Row []string

// Cell returns the value at index i, or "" if the row is short.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// Clone returns an independent copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Predicate selects rows for UpdateField and DeleteMatching.
type Predicate func(Row) bool

// Match selects rows whose cell at col equals value.
func Match(col int, value string) Predicate {
	return func(r Row) bool { return r.Cell(col) == value }
}

// All selects rows matched by every predicate.
func All(preds ...Predicate) Predicate {
	return func(r Row) bool {
		for _, p := range preds {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

// Ledger is the adapter contract over the external store.
type Ledger interface {
	// Append adds row to the end of sheet.
	Append(ctx context.Context, sheet Sheet, row Row) error

	// ScanAll returns every row of sheet in append order.
	ScanAll(ctx context.Context, sheet Sheet) ([]Row, error)

	// UpdateField sets the cell at field to value on every row matched by
	// match, in a single call, and returns how many rows changed.
	UpdateField(ctx context.Context, sheet Sheet, match Predicate, field int, value string) (int, error)

	// DeleteMatching removes every row matched by match and returns how
	// many were removed.
	DeleteMatching(ctx context.Context, sheet Sheet, match Predicate) (int, error)

	Close() error
}

const timeLayout = time.RFC3339Nano

// FormatTime renders t for a ledger cell. The zero time renders as "".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a cell written by FormatTime. "" parses as the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
