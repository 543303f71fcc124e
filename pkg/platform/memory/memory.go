// Package memory is an in-process platform simulator. It backs the tests
// and `--platform=memory` dry runs: the bot can exercise the whole
// control plane without a gateway connection.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/WoushouW/woushBOT/pkg/model"
	"github.com/WoushouW/woushBOT/pkg/platform"
)

// Operation names accepted by FailOn, SetDelay and Calls.
const (
	OpResolveSubject    = "resolve_subject"
	OpResolveScope      = "resolve_scope"
	OpCreateAccessGroup = "create_access_group"
	OpGrantAccessGroup  = "grant_access_group"
	OpDeleteAccessGroup = "delete_access_group"
	OpCreateContainer   = "create_container"
	OpDeleteContainer   = "delete_container"
	OpContainerExists   = "container_exists"
	OpSuspend           = "suspend"
	OpUnsuspend         = "unsuspend"
	OpBan               = "ban"
	OpUnban             = "unban"
)

// Group is a simulated access group.
type Group struct {
	ID      string
	ScopeID string
	Name    string
	Members []string
}

// Container is a simulated container.
type Container struct {
	ID   string
	Spec platform.ContainerSpec
}

type memberKey struct {
	scopeID, subjectID string
}

// Platform implements platform.Platform and platform.Connector in memory.
type Platform struct {
	mu         sync.Mutex
	scopes     map[string]model.Scope
	subjects   map[memberKey]model.Subject
	groups     map[string]*Group
	containers map[string]Container
	suspended  map[memberKey]time.Time
	banned     map[memberKey]string

	calls  map[string]int
	failOn map[string]error
	delay  map[string]time.Duration
	sink   func(platform.Event)
}

// New creates an empty simulator.
func New() *Platform {
	return &Platform{
		scopes:     make(map[string]model.Scope),
		subjects:   make(map[memberKey]model.Subject),
		groups:     make(map[string]*Group),
		containers: make(map[string]Container),
		suspended:  make(map[memberKey]time.Time),
		banned:     make(map[memberKey]string),
		calls:      make(map[string]int),
		failOn:     make(map[string]error),
		delay:      make(map[string]time.Duration),
	}
}

// AddScope registers a scope.
func (p *Platform) AddScope(id, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scopes[id] = model.Scope{ID: id, Label: label}
}

// AddSubject registers a member of scopeID, creating the scope if needed.
func (p *Platform) AddSubject(scopeID, id, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.scopes[scopeID]; !ok {
		p.scopes[scopeID] = model.Scope{ID: scopeID, Label: scopeID}
	}
	p.subjects[memberKey{scopeID, id}] = model.Subject{ID: id, Label: label}
}

// FailOn makes every later call of op return err. A nil err clears it.
func (p *Platform) FailOn(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failOn, op)
		return
	}
	p.failOn[op] = err
}

// SetDelay makes every later call of op sleep for d before acting.
func (p *Platform) SetDelay(op string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay[op] = d
}

// Calls returns how many times op was invoked, failures included.
func (p *Platform) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// Group returns a copy of the group with id.
func (p *Platform) Group(id string) (Group, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.groups[id]
	if !ok {
		return Group{}, false
	}
	out := *g
	out.Members = append([]string(nil), g.Members...)
	return out, true
}

// Container returns the container with id.
func (p *Platform) Container(id string) (Container, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.containers[id]
	return c, ok
}

// ContainerCount returns the number of live containers.
func (p *Platform) ContainerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.containers)
}

// Banned reports whether the subject is banned from scopeID.
func (p *Platform) Banned(scopeID, subjectID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.banned[memberKey{scopeID, subjectID}]
	return ok
}

// SuspendedUntil returns the end of the subject's timeout, if any.
func (p *Platform) SuspendedUntil(scopeID, subjectID string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	until, ok := p.suspended[memberKey{scopeID, subjectID}]
	return until, ok
}

// PutContainer inserts a container directly, as if it survived a restart.
func (p *Platform) PutContainer(id string, spec platform.ContainerSpec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.containers[id] = Container{ID: id, Spec: spec}
}

// DeleteContainerExternally removes a container the way a human operator
// would and emits ContainerDeletedEvent.
func (p *Platform) DeleteContainerExternally(id string) {
	p.mu.Lock()
	c, ok := p.containers[id]
	delete(p.containers, id)
	p.mu.Unlock()
	if ok {
		p.emit(platform.ContainerDeletedEvent{ScopeID: c.Spec.ScopeID, ContainerID: id})
	}
}

// UnbanExternally lifts a ban outside the control plane and emits
// BanRemovedEvent.
func (p *Platform) UnbanExternally(scopeID, subjectID string) {
	p.mu.Lock()
	delete(p.banned, memberKey{scopeID, subjectID})
	p.mu.Unlock()
	p.emit(platform.BanRemovedEvent{ScopeID: scopeID, SubjectID: subjectID})
}

// Open implements platform.Connector. It emits ReadyEvent with every
// known scope.
func (p *Platform) Open(_ context.Context, sink func(platform.Event)) error {
	p.mu.Lock()
	p.sink = sink
	ids := make([]string, 0, len(p.scopes))
	for id := range p.scopes {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	sort.Strings(ids)
	p.emit(platform.ReadyEvent{ScopeIDs: ids})
	return nil
}

// Close implements platform.Connector.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = nil
	return nil
}

func (p *Platform) emit(ev platform.Event) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

// enter counts the call, applies the configured delay and returns the
// injected failure. It must be called without p.mu held.
func (p *Platform) enter(ctx context.Context, op string) error {
	p.mu.Lock()
	p.calls[op]++
	d := p.delay[op]
	err := p.failOn[op]
	p.mu.Unlock()

	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p *Platform) ResolveSubject(ctx context.Context, scopeID, subjectID string) (model.Subject, error) {
	if err := p.enter(ctx, OpResolveSubject); err != nil {
		return model.Subject{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.subjects[memberKey{scopeID, subjectID}]
	if !ok {
		return model.Subject{}, fmt.Errorf("member %s in %s: %w", subjectID, scopeID, platform.ErrNotFound)
	}
	return s, nil
}

func (p *Platform) ResolveScope(ctx context.Context, scopeID string) (model.Scope, error) {
	if err := p.enter(ctx, OpResolveScope); err != nil {
		return model.Scope{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.scopes[scopeID]
	if !ok {
		return model.Scope{}, fmt.Errorf("scope %s: %w", scopeID, platform.ErrNotFound)
	}
	return s, nil
}

func (p *Platform) CreateAccessGroup(ctx context.Context, scopeID, name string) (string, error) {
	if err := p.enter(ctx, OpCreateAccessGroup); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.scopes[scopeID]; !ok {
		return "", fmt.Errorf("scope %s: %w", scopeID, platform.ErrNotFound)
	}
	id := uuid.NewString()
	p.groups[id] = &Group{ID: id, ScopeID: scopeID, Name: name}
	return id, nil
}

func (p *Platform) GrantAccessGroup(ctx context.Context, scopeID, groupID, subjectID string) error {
	if err := p.enter(ctx, OpGrantAccessGroup); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.groups[groupID]
	if !ok || g.ScopeID != scopeID {
		return fmt.Errorf("group %s: %w", groupID, platform.ErrNotFound)
	}
	if _, ok := p.subjects[memberKey{scopeID, subjectID}]; !ok {
		return fmt.Errorf("member %s: %w", subjectID, platform.ErrNotFound)
	}
	g.Members = append(g.Members, subjectID)
	return nil
}

func (p *Platform) DeleteAccessGroup(ctx context.Context, scopeID, groupID string) error {
	if err := p.enter(ctx, OpDeleteAccessGroup); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.groups[groupID]; !ok || g.ScopeID != scopeID {
		return fmt.Errorf("group %s: %w", groupID, platform.ErrNotFound)
	}
	delete(p.groups, groupID)
	return nil
}

func (p *Platform) CreateContainer(ctx context.Context, spec platform.ContainerSpec) (string, error) {
	if err := p.enter(ctx, OpCreateContainer); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.scopes[spec.ScopeID]; !ok {
		return "", fmt.Errorf("scope %s: %w", spec.ScopeID, platform.ErrNotFound)
	}
	id := uuid.NewString()
	spec.Overrides = append([]platform.Override(nil), spec.Overrides...)
	p.containers[id] = Container{ID: id, Spec: spec}
	return id, nil
}

func (p *Platform) DeleteContainer(ctx context.Context, containerID string) error {
	if err := p.enter(ctx, OpDeleteContainer); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.containers[containerID]; !ok {
		return fmt.Errorf("container %s: %w", containerID, platform.ErrNotFound)
	}
	delete(p.containers, containerID)
	return nil
}

func (p *Platform) ContainerExists(ctx context.Context, containerID string) (bool, error) {
	if err := p.enter(ctx, OpContainerExists); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.containers[containerID]
	return ok, nil
}

func (p *Platform) Suspend(ctx context.Context, scopeID, subjectID string, until time.Time, _ string) error {
	if err := p.enter(ctx, OpSuspend); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	k := memberKey{scopeID, subjectID}
	if _, ok := p.subjects[k]; !ok {
		return fmt.Errorf("member %s: %w", subjectID, platform.ErrNotFound)
	}
	p.suspended[k] = until
	return nil
}

func (p *Platform) Unsuspend(ctx context.Context, scopeID, subjectID string) error {
	if err := p.enter(ctx, OpUnsuspend); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.suspended, memberKey{scopeID, subjectID})
	return nil
}

func (p *Platform) Ban(ctx context.Context, scopeID, subjectID, reason string) error {
	if err := p.enter(ctx, OpBan); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.scopes[scopeID]; !ok {
		return fmt.Errorf("scope %s: %w", scopeID, platform.ErrNotFound)
	}
	p.banned[memberKey{scopeID, subjectID}] = reason
	return nil
}

func (p *Platform) Unban(ctx context.Context, scopeID, subjectID string) error {
	if err := p.enter(ctx, OpUnban); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	k := memberKey{scopeID, subjectID}
	if _, ok := p.banned[k]; !ok {
		return fmt.Errorf("ban %s: %w", subjectID, platform.ErrNotFound)
	}
	delete(p.banned, k)
	return nil
}

var (
	_ platform.Platform  = (*Platform)(nil)
	_ platform.Connector = (*Platform)(nil)
)
