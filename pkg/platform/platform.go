// Package platform defines the realtime platform the session drives:
// identity lookups, access groups, containers, sanctions, and the inbound
// events the managers react to.
//
// Every Platform method is called from the session execution context
// only. Implementations do not need to be safe for concurrent use by more
// than that one goroutine, but the discord adapter is anyway.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/WoushouW/woushBOT/pkg/model"
)

// ErrNotFound reports that the referenced platform object does not exist.
// Cleanup paths treat it as "already cleaned".
var ErrNotFound = errors.New("platform: not found")

// Permission is a bit set of container permissions.
type Permission uint64

const (
	PermView Permission = 1 << iota
	PermConnect
	PermSpeak
	PermManageRoles
	PermManageContainer
)

// Has reports whether all bits of q are set in p.
func (p Permission) Has(q Permission) bool { return p&q == q }

// TargetKind is what a permission override applies to.
type TargetKind int

const (
	TargetDefault TargetKind = iota // everyone in the scope
	TargetGroup
	TargetMember
)

// Override is one container permission override.
type Override struct {
	Kind     TargetKind
	TargetID string // group or member id; empty for TargetDefault
	Allow    Permission
	Deny     Permission
}

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	ScopeID   string
	ParentID  string // category; empty for top level
	Name      string
	Capacity  int
	Overrides []Override
}

// Platform is the command surface used by the managers.
type Platform interface {
	ResolveSubject(ctx context.Context, scopeID, subjectID string) (model.Subject, error)
	ResolveScope(ctx context.Context, scopeID string) (model.Scope, error)

	CreateAccessGroup(ctx context.Context, scopeID, name string) (string, error)
	GrantAccessGroup(ctx context.Context, scopeID, groupID, subjectID string) error
	DeleteAccessGroup(ctx context.Context, scopeID, groupID string) error

	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	DeleteContainer(ctx context.Context, containerID string) error
	ContainerExists(ctx context.Context, containerID string) (bool, error)

	// Suspend times a member out until the given time.
	Suspend(ctx context.Context, scopeID, subjectID string, until time.Time, reason string) error
	Unsuspend(ctx context.Context, scopeID, subjectID string) error
	Ban(ctx context.Context, scopeID, subjectID, reason string) error
	Unban(ctx context.Context, scopeID, subjectID string) error
}

// EventKind keys the session dispatch table.
type EventKind string

const (
	KindReady            EventKind = "ready"
	KindContainerDeleted EventKind = "container_deleted"
	KindBanRemoved       EventKind = "ban_removed"
)

// Event is an inbound platform event.
type Event interface {
	Kind() EventKind
}

// ReadyEvent is delivered once the connection is established (and again
// after a full reconnect).
type ReadyEvent struct {
	ScopeIDs []string
}

// ContainerDeletedEvent reports a container deleted by anyone, including
// this process.
type ContainerDeletedEvent struct {
	ScopeID     string
	ContainerID string
}

// BanRemovedEvent reports that a ban was lifted on the platform.
type BanRemovedEvent struct {
	ScopeID   string
	SubjectID string
}

func (ReadyEvent) Kind() EventKind            { return KindReady }
func (ContainerDeletedEvent) Kind() EventKind { return KindContainerDeleted }
func (BanRemovedEvent) Kind() EventKind       { return KindBanRemoved }

// Connector owns the platform connection. Open starts delivering inbound
// events to sink and returns once the connection is up; sink may be
// called from any goroutine.
type Connector interface {
	Open(ctx context.Context, sink func(Event)) error
	Close() error
}
