package ephemeral

import (
	"context"

	"github.com/WoushouW/woushBOT/pkg/ledger"
	"github.com/WoushouW/woushBOT/pkg/model"
)

// ReconcileReport counts what Reconcile did with each active ledger row.
type ReconcileReport struct {
	Restored int // re-registered with a continuation timer
	Expired  int // deadline passed while down, expired now
	Orphaned int // container gone, row marked orphan_cleaned
	Skipped  int // undecodable, duplicate, already known, or lookup failed
}

// Reconcile rebuilds the registry from the ledger and the live platform.
// It is the only reader of the ledger. Rows already in the registry are
// skipped, so calling it again after a reconnect is safe. Loop goroutine
// only.
func (m *Manager) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var rep ReconcileReport

	rows, err := m.mirror.Scan(ctx, ledger.SheetResources)
	if err != nil {
		m.logger.Warn("room reconciliation skipped, ledger unreadable", "err", err)
		return rep, err
	}

	now := m.sched.Now()
	seen := make(map[string]bool)
	for _, row := range rows {
		if row.Cell(ledger.ResourceStatus) != string(model.ResourceActive) {
			continue
		}
		res, err := decodeResource(row)
		if err != nil {
			m.logger.Warn("skipping undecodable room row", "err", err)
			rep.Skipped++
			continue
		}
		if seen[res.ID] || m.known(res.ID) {
			rep.Skipped++
			continue
		}
		seen[res.ID] = true

		exists, err := m.platform.ContainerExists(ctx, res.ID)
		if err != nil {
			m.logger.Warn("room lookup failed, left for next start", "resource_id", res.ID, "err", err)
			rep.Skipped++
			continue
		}
		if !exists {
			m.mirror.UpdateField(ctx, ledger.SheetResources, matchActive(res.ID), ledger.ResourceStatus, string(model.ResourceOrphanCleaned))
			m.bury(res, model.ResourceOrphanCleaned)
			m.observer.ResourceFinished(model.ResourceOrphanCleaned)
			m.logger.Info("room orphan cleaned", "resource_id", res.ID, "name", res.Name)
			rep.Orphaned++
			continue
		}

		m.register(res)
		if remaining := res.Remaining(now); remaining > 0 {
			m.logger.Info("room restored", "resource_id", res.ID, "name", res.Name, "remaining", remaining)
			rep.Restored++
			continue
		}
		m.expire(ctx, res.ID)
		rep.Expired++
	}

	m.logger.Info("room reconciliation done",
		"restored", rep.Restored, "expired", rep.Expired, "orphaned", rep.Orphaned, "skipped", rep.Skipped)
	return rep, nil
}

func (m *Manager) known(id string) bool {
	if _, ok := m.active[id]; ok {
		return true
	}
	_, ok := m.tombstones[id]
	return ok
}
