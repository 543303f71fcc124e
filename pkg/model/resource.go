package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxResourceNameLength      = 30
	MinResourceDurationMinutes = 1
	MaxResourceDurationMinutes = 90
	MinResourceCapacity        = 1
	MaxResourceCapacity        = 50

	// AccessGroupPrefix names the access group created for a room:
	// a room "Squad" is gated by the group "Room(Squad)".
	AccessGroupPrefix = "Room"
)

var ErrResourceNameEmpty = errors.New("room name must not be empty")
var ErrResourceNameTooLong = fmt.Errorf("room name must not exceed %d characters", MaxResourceNameLength)
var ErrResourceDuration = fmt.Errorf("duration must be between %d and %d minutes", MinResourceDurationMinutes, MaxResourceDurationMinutes)
var ErrResourceCapacity = fmt.Errorf("capacity must be between %d and %d", MinResourceCapacity, MaxResourceCapacity)
var ErrResourceOwnerEmpty = errors.New("owner id must not be empty")
var ErrResourceScopeEmpty = errors.New("scope id must not be empty")
var ErrUnknownResourceStatus = errors.New("unknown resource status")

// ResourceStatus is the lifecycle state of an ephemeral resource.
// Every value except ResourceActive is terminal.
type ResourceStatus string

const (
	ResourceActive         ResourceStatus = "active"
	ResourceExpired        ResourceStatus = "expired"
	ResourceDeletedByAdmin ResourceStatus = "deleted_by_admin"
	ResourceOrphanCleaned  ResourceStatus = "orphan_cleaned"
)

// Terminal reports whether no further transition is possible.
func (s ResourceStatus) Terminal() bool {
	return s != ResourceActive
}

// ParseResourceStatus converts a ledger value to a ResourceStatus.
func ParseResourceStatus(s string) (ResourceStatus, error) {
	switch st := ResourceStatus(s); st {
	case ResourceActive, ResourceExpired, ResourceDeletedByAdmin, ResourceOrphanCleaned:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownResourceStatus, s)
	}
}

// ResourceSpec is a request to create an ephemeral room.
type ResourceSpec struct {
	ScopeID         string   `json:"scope_id"`
	Name            string   `json:"name"`
	OwnerID         string   `json:"owner_id"`
	MemberIDs       []string `json:"member_ids,omitempty"` // granted in addition to the owner
	DurationMinutes int      `json:"duration_minutes"`
	Capacity        int      `json:"capacity"`
}

// Normalize returns spec with surrounding whitespace stripped from the
// name and every id. Rooms are built from the normalized spec.
func (s ResourceSpec) Normalize() ResourceSpec {
	s.ScopeID = strings.TrimSpace(s.ScopeID)
	s.Name = strings.TrimSpace(s.Name)
	s.OwnerID = strings.TrimSpace(s.OwnerID)
	if s.MemberIDs != nil {
		members := make([]string, 0, len(s.MemberIDs))
		for _, id := range s.MemberIDs {
			members = append(members, strings.TrimSpace(id))
		}
		s.MemberIDs = members
	}
	return s
}

// Validate checks the parameter ranges. It does not resolve the owner;
// that needs the platform.
func (s ResourceSpec) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return ErrResourceNameEmpty
	} else if utf8.RuneCountInString(name) > MaxResourceNameLength {
		return ErrResourceNameTooLong
	}

	if s.DurationMinutes < MinResourceDurationMinutes || s.DurationMinutes > MaxResourceDurationMinutes {
		return ErrResourceDuration
	}
	if s.Capacity < MinResourceCapacity || s.Capacity > MaxResourceCapacity {
		return ErrResourceCapacity
	}
	if strings.TrimSpace(s.OwnerID) == "" {
		return ErrResourceOwnerEmpty
	}
	if strings.TrimSpace(s.ScopeID) == "" {
		return ErrResourceScopeEmpty
	}
	return nil
}

// Duration returns the requested lifetime.
func (s ResourceSpec) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// Members returns the de-duplicated member set with the owner first.
func (s ResourceSpec) Members() []string {
	owner := strings.TrimSpace(s.OwnerID)
	seen := map[string]bool{owner: true}
	out := []string{owner}
	for _, id := range s.MemberIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// AccessGroupName returns the platform name of the group gating a room.
func AccessGroupName(roomName string) string {
	return AccessGroupPrefix + "(" + roomName + ")"
}

// Resource is a time-boxed, access-controlled room.
type Resource struct {
	ID              string         `json:"id"` // platform container id
	Name            string         `json:"name"`
	ScopeID         string         `json:"scope_id"`
	ScopeLabel      string         `json:"scope_label"`
	OwnerID         string         `json:"owner_id"`
	OwnerLabel      string         `json:"owner_label"`
	MemberIDs       []string       `json:"member_ids"` // includes the owner
	AccessGroupID   string         `json:"access_group_id"`
	DurationMinutes int            `json:"duration_minutes"`
	Capacity        int            `json:"capacity"`
	CreatedAt       time.Time      `json:"created_at"`
	ExpiresAt       time.Time      `json:"expires_at"`
	Status          ResourceStatus `json:"status"`
}

// Remaining returns the time left before expiry, which may be negative.
func (r Resource) Remaining(now time.Time) time.Duration {
	return r.ExpiresAt.Sub(now)
}
