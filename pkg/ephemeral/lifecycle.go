package ephemeral

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

func (m *Manager) create(ctx context.Context, spec model.ResourceSpec) (model.Resource, error) {
	const op = "rooms.create"

	scope, err := m.platform.ResolveScope(ctx, spec.ScopeID)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return model.Resource{}, apperr.Validation("unknown scope %q", spec.ScopeID)
		}
		return model.Resource{}, apperr.Execution(op, err)
	}

	members := spec.Members()
	var owner model.Subject
	for i, id := range members {
		s, err := m.platform.ResolveSubject(ctx, spec.ScopeID, id)
		if errors.Is(err, platform.ErrNotFound) {
			if i == 0 {
				return model.Resource{}, apperr.Validation("owner %q is not a known member", id)
			}
			return model.Resource{}, apperr.Validation("member %q is not a known member", id)
		} else if err != nil {
			return model.Resource{}, apperr.Execution(op, err)
		}
		if i == 0 {
			owner = s
		}
	}

	name := spec.Name
	groupID, err := m.platform.CreateAccessGroup(ctx, spec.ScopeID, model.AccessGroupName(name))
	if err != nil {
		return model.Resource{}, apperr.Execution(op, fmt.Errorf("create access group: %w", err))
	}
	for _, id := range members {
		if err := m.platform.GrantAccessGroup(ctx, spec.ScopeID, groupID, id); err != nil {
			m.cleanupGroup(ctx, spec.ScopeID, groupID)
			return model.Resource{}, apperr.Execution(op, fmt.Errorf("grant access group to %s: %w", id, err))
		}
	}

	containerID, err := m.platform.CreateContainer(ctx, platform.ContainerSpec{
		ScopeID:  spec.ScopeID,
		ParentID: m.cfg.ParentContainerID,
		Name:     name,
		Capacity: spec.Capacity,
		Overrides: []platform.Override{
			{Kind: platform.TargetDefault, Allow: platform.PermView, Deny: platform.PermConnect},
			{Kind: platform.TargetGroup, TargetID: groupID, Allow: platform.PermView | platform.PermConnect | platform.PermSpeak},
			{Kind: platform.TargetMember, TargetID: owner.ID, Allow: platform.PermView | platform.PermConnect | platform.PermSpeak | platform.PermManageRoles},
		},
	})
	if err != nil {
		m.cleanupGroup(ctx, spec.ScopeID, groupID)
		return model.Resource{}, apperr.Execution(op, fmt.Errorf("create container: %w", err))
	}

	now := m.sched.Now()
	res := model.Resource{
		ID:              containerID,
		Name:            name,
		ScopeID:         scope.ID,
		ScopeLabel:      scope.Label,
		OwnerID:         owner.ID,
		OwnerLabel:      owner.Label,
		MemberIDs:       members,
		AccessGroupID:   groupID,
		DurationMinutes: spec.DurationMinutes,
		Capacity:        spec.Capacity,
		CreatedAt:       now,
		ExpiresAt:       now.Add(spec.Duration()),
		Status:          model.ResourceActive,
	}

	m.mirror.Append(ctx, ledger.SheetResources, encodeResource(res))
	m.register(res)
	m.observer.ResourceCreated()

	m.logger.Info("room created",
		"resource_id", res.ID, "name", res.Name, "scope_id", res.ScopeID,
		"owner_id", res.OwnerID, "members", len(res.MemberIDs), "expires_at", res.ExpiresAt)
	return cloneResource(res), nil
}

// register adds res to the registry and schedules its expiry.
func (m *Manager) register(res model.Resource) {
	e := &entry{res: res}
	e.timer = m.sched.Schedule(res.ExpiresAt, func(ctx context.Context) {
		m.expire(ctx, res.ID)
	})
	m.active[res.ID] = e
	m.observer.ActiveResources(len(m.active))
}

func (m *Manager) terminate(ctx context.Context, id string) error {
	e, ok := m.active[id]
	if !ok {
		if ts, ok := m.tombstones[id]; ok {
			return apperr.Conflict("room %q is already %s", id, ts.res.Status)
		}
		return apperr.Conflict("room %q is not active", id)
	}

	// The container goes first: if the platform refuses, the room stays
	// active with its timer and the call can be retried.
	if err := m.platform.DeleteContainer(ctx, id); err != nil && !errors.Is(err, platform.ErrNotFound) {
		return apperr.Execution("rooms.terminate", fmt.Errorf("delete container: %w", err))
	}
	m.finish(ctx, e, model.ResourceDeletedByAdmin)
	return nil
}

func (m *Manager) expire(ctx context.Context, id string) {
	e, ok := m.active[id]
	if !ok {
		m.logger.Debug("expiry for finished room ignored", "resource_id", id)
		return
	}
	if err := m.platform.DeleteContainer(ctx, id); errors.Is(err, platform.ErrNotFound) {
		m.logger.Info("expired room container already absent", "resource_id", id)
	} else if err != nil {
		m.logger.Warn("expired room container delete failed", "resource_id", id, "err", err)
	}
	m.finish(ctx, e, model.ResourceExpired)
}

// finish moves an active room to a terminal status. The container is
// already gone or being abandoned; the group delete is best effort.
func (m *Manager) finish(ctx context.Context, e *entry, status model.ResourceStatus) {
	m.sched.Cancel(e.timer)
	m.cleanupGroup(ctx, e.res.ScopeID, e.res.AccessGroupID)

	m.mirror.UpdateField(ctx, ledger.SheetResources, matchActive(e.res.ID), ledger.ResourceStatus, string(status))

	delete(m.active, e.res.ID)
	m.bury(e.res, status)
	m.observer.ResourceFinished(status)
	m.observer.ActiveResources(len(m.active))

	m.logger.Info("room finished", "resource_id", e.res.ID, "name", e.res.Name, "status", string(status))
}

func (m *Manager) bury(res model.Resource, status model.ResourceStatus) {
	m.pruneTombstones()
	res.Status = status
	m.tombstones[res.ID] = tombstone{res: res, until: m.sched.Now().Add(m.cfg.TombstoneTTL)}
}

func (m *Manager) cleanupGroup(ctx context.Context, scopeID, groupID string) {
	if groupID == "" {
		return
	}
	err := m.platform.DeleteAccessGroup(ctx, scopeID, groupID)
	switch {
	case err == nil:
	case errors.Is(err, platform.ErrNotFound):
		m.logger.Debug("access group already absent", "group_id", groupID)
	default:
		m.logger.Warn("access group cleanup failed", "group_id", groupID, "scope_id", scopeID, "err", err)
	}
}

func (m *Manager) handleContainerDeleted(ctx context.Context, ev platform.ContainerDeletedEvent) {
	e, ok := m.active[ev.ContainerID]
	if !ok {
		return
	}
	m.logger.Info("room container deleted outside the bot", "resource_id", ev.ContainerID)
	m.finish(ctx, e, model.ResourceOrphanCleaned)
}
