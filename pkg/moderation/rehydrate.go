package moderation

import (
	"context"
	"slices"

	"github.com/WoushouW/woushBOT/pkg/ledger"
	"github.com/WoushouW/woushBOT/pkg/model"
)

// Rehydrate loads active punishments and warnings from the ledger. It
// runs once per process; later calls are no-ops. Records already held in
// memory are not loaded twice. A ledger that cannot be
// read leaves the tracker empty and is retried on the next call. Loop
// goroutine only.
func (t *Tracker) Rehydrate(ctx context.Context) error {
	if t.rehydrated {
		return nil
	}

	prows, err := t.mirror.Scan(ctx, ledger.SheetPunishments)
	if err != nil {
		t.logger.Warn("moderation rehydrate skipped, ledger unreadable", "err", err)
		return err
	}
	wrows, err := t.mirror.Scan(ctx, ledger.SheetWarnings)
	if err != nil {
		t.logger.Warn("moderation rehydrate skipped, ledger unreadable", "err", err)
		return err
	}
	t.rehydrated = true

	now := t.sched.Now()
	var restored, expired int
	for _, row := range prows {
		if row.Cell(ledger.PunishmentStatus) != string(model.PunishmentActive) {
			continue
		}
		rec, err := decodePunishment(row)
		if err != nil {
			t.logger.Warn("skipping undecodable punishment row", "err", err)
			continue
		}
		k := punishmentKey{subjectKey{rec.ScopeID, rec.SubjectID}, rec.Kind}
		if _, ok := t.punishments[k]; ok {
			continue
		}
		ap := t.register(rec)
		if !rec.Indefinite() && !rec.EndsAt.After(now) {
			t.expire(ctx, k, ap)
			expired++
			continue
		}
		restored++
	}

	warned := 0
	for _, row := range wrows {
		if row.Cell(ledger.WarningStatus) != string(model.WarningActive) {
			continue
		}
		w, err := decodeWarning(row)
		if err != nil {
			t.logger.Warn("skipping undecodable warning row", "err", err)
			continue
		}
		k := subjectKey{w.ScopeID, w.SubjectID}
		// Warnings recorded before Rehydrate ran are already in memory.
		if slices.ContainsFunc(t.warnings[k], func(have model.Warning) bool { return sameWarning(have, w) }) {
			continue
		}
		t.warnings[k] = append(t.warnings[k], w)
		warned++
	}
	for k, ws := range t.warnings {
		slices.SortStableFunc(ws, func(a, b model.Warning) int {
			if c := a.IssuedAt.Compare(b.IssuedAt); c != 0 {
				return c
			}
			return a.Sequence - b.Sequence
		})
		t.warnings[k] = ws
	}

	t.logger.Info("moderation rehydrated",
		"punishments", restored, "expired", expired, "warnings", warned, "subjects_warned", len(t.warnings))
	return nil
}

func sameWarning(a, b model.Warning) bool {
	return a.IssuedAt.Equal(b.IssuedAt) && a.Sequence == b.Sequence &&
		a.ModeratorID == b.ModeratorID && a.Reason == b.Reason
}
