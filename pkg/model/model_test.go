package model

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validSpec() ResourceSpec {
	return ResourceSpec{
		ScopeID:         "guild-1",
		Name:            "Squad",
		OwnerID:         "u1",
		DurationMinutes: 30,
		Capacity:        5,
	}
}

func TestResourceSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ResourceSpec)
		wantErr error
	}{
		{"valid", func(*ResourceSpec) {}, nil},
		{"max name length", func(s *ResourceSpec) { s.Name = strings.Repeat("a", MaxResourceNameLength) }, nil},
		{"cyrillic name counts runes", func(s *ResourceSpec) { s.Name = strings.Repeat("ж", MaxResourceNameLength) }, nil},
		{"empty name", func(s *ResourceSpec) { s.Name = "" }, ErrResourceNameEmpty},
		{"blank name", func(s *ResourceSpec) { s.Name = "   " }, ErrResourceNameEmpty},
		{"name too long", func(s *ResourceSpec) { s.Name = strings.Repeat("a", MaxResourceNameLength+1) }, ErrResourceNameTooLong},
		{"duration zero", func(s *ResourceSpec) { s.DurationMinutes = 0 }, ErrResourceDuration},
		{"duration min", func(s *ResourceSpec) { s.DurationMinutes = 1 }, nil},
		{"duration max", func(s *ResourceSpec) { s.DurationMinutes = 90 }, nil},
		{"duration too long", func(s *ResourceSpec) { s.DurationMinutes = 91 }, ErrResourceDuration},
		{"capacity zero", func(s *ResourceSpec) { s.Capacity = 0 }, ErrResourceCapacity},
		{"capacity max", func(s *ResourceSpec) { s.Capacity = 50 }, nil},
		{"capacity too large", func(s *ResourceSpec) { s.Capacity = 51 }, ErrResourceCapacity},
		{"no owner", func(s *ResourceSpec) { s.OwnerID = "" }, ErrResourceOwnerEmpty},
		{"no scope", func(s *ResourceSpec) { s.ScopeID = "" }, ErrResourceScopeEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)
			err := spec.Validate()
			if err != tt.wantErr {
				t.Errorf("Validate(%+v) = %v, want %v", spec, err, tt.wantErr)
			}
		})
	}
}

func TestResourceSpecMembers(t *testing.T) {
	spec := validSpec()
	spec.MemberIDs = []string{"u2", "u1", "", "u2", " u3 "}

	got := spec.Members()
	want := []string{"u1", "u2", "u3"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Members() = %v, want %v", got, want)
	}
}

func TestResourceSpecNormalize(t *testing.T) {
	spec := ResourceSpec{
		ScopeID:   " guild-1 ",
		Name:      strings.Repeat(" ", 20) + "Squad" + strings.Repeat(" ", 20),
		OwnerID:   "\tu1 ",
		MemberIDs: []string{" u2", "u3 "},
	}

	got := spec.Normalize()
	if got.Name != "Squad" || got.ScopeID != "guild-1" || got.OwnerID != "u1" {
		t.Errorf("Normalize() = %+v, want trimmed name and ids", got)
	}
	if strings.Join(got.MemberIDs, ",") != "u2,u3" {
		t.Errorf("Normalize().MemberIDs = %q, want [u2 u3]", got.MemberIDs)
	}
	if spec.MemberIDs[0] != " u2" {
		t.Error("Normalize modified the caller's member slice")
	}
}

func TestResourceSpecMembersTrimsOwner(t *testing.T) {
	spec := validSpec()
	spec.OwnerID = " u1 "
	spec.MemberIDs = []string{"u1", "u2"}

	got := spec.Members()
	if strings.Join(got, ",") != "u1,u2" {
		t.Errorf("Members() = %v, want [u1 u2]", got)
	}
}

func TestResourceRemaining(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := Resource{ExpiresAt: now.Add(10 * time.Minute)}
	if got := r.Remaining(now); got != 10*time.Minute {
		t.Errorf("Remaining = %s, want 10m", got)
	}
	if got := r.Remaining(now.Add(time.Hour)); got >= 0 {
		t.Errorf("Remaining after expiry = %s, want negative", got)
	}
}

func TestAccessGroupName(t *testing.T) {
	if got := AccessGroupName("Squad"); got != "Room(Squad)" {
		t.Errorf("AccessGroupName = %q, want %q", got, "Room(Squad)")
	}
}

func TestResourceStatusTerminal(t *testing.T) {
	tests := []struct {
		status ResourceStatus
		want   bool
	}{
		{ResourceActive, false},
		{ResourceExpired, true},
		{ResourceDeletedByAdmin, true},
		{ResourceOrphanCleaned, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestParseStatuses(t *testing.T) {
	if st, err := ParseResourceStatus("deleted_by_admin"); err != nil || st != ResourceDeletedByAdmin {
		t.Errorf("ParseResourceStatus = %v, %v", st, err)
	}
	if _, err := ParseResourceStatus("gone"); !errors.Is(err, ErrUnknownResourceStatus) {
		t.Errorf("ParseResourceStatus(gone) err = %v", err)
	}
	if st, err := ParsePunishmentStatus("lifted"); err != nil || st != PunishmentLifted {
		t.Errorf("ParsePunishmentStatus = %v, %v", st, err)
	}
	if _, err := ParsePunishmentKind("kick"); !errors.Is(err, ErrUnknownPunishmentKind) {
		t.Errorf("ParsePunishmentKind(kick) err = %v", err)
	}
	if _, err := ParseWarningStatus(""); !errors.Is(err, ErrUnknownWarningStatus) {
		t.Errorf("ParseWarningStatus(\"\") err = %v", err)
	}
}

func TestRoleRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		role Role
	}{
		{"admin", RoleAdmin},
		{"room_manager", RoleRoomManager},
		{"none", RoleNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.role.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
			if got := ParseRole(tt.name); got != tt.role {
				t.Errorf("ParseRole(%q) = %v, want %v", tt.name, got, tt.role)
			}
			if !tt.role.Valid() {
				t.Errorf("%v.Valid() = false", tt.role)
			}
		})
	}
	if Role(99).Valid() {
		t.Error("Role(99).Valid() = true")
	}
}
