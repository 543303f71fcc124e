package platform

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/WoushouW/woushBOT/pkg/model"
)

// Limited returns a Platform that waits on lim before every call to p.
// A nil lim returns p unchanged.
func Limited(p Platform, lim *rate.Limiter) Platform {
	if lim == nil {
		return p
	}
	return &limited{next: p, lim: lim}
}

// NewLimiter builds the limiter for Limited. perSecond <= 0 disables it.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

type limited struct {
	next Platform
	lim  *rate.Limiter
}

func (l *limited) wait(ctx context.Context, op string) error {
	if err := l.lim.Wait(ctx); err != nil {
		return fmt.Errorf("platform: %s: rate limit: %w", op, err)
	}
	return nil
}

func (l *limited) ResolveSubject(ctx context.Context, scopeID, subjectID string) (model.Subject, error) {
	if err := l.wait(ctx, "resolve subject"); err != nil {
		return model.Subject{}, err
	}
	return l.next.ResolveSubject(ctx, scopeID, subjectID)
}

func (l *limited) ResolveScope(ctx context.Context, scopeID string) (model.Scope, error) {
	if err := l.wait(ctx, "resolve scope"); err != nil {
		return model.Scope{}, err
	}
	return l.next.ResolveScope(ctx, scopeID)
}

func (l *limited) CreateAccessGroup(ctx context.Context, scopeID, name string) (string, error) {
	if err := l.wait(ctx, "create access group"); err != nil {
		return "", err
	}
	return l.next.CreateAccessGroup(ctx, scopeID, name)
}

func (l *limited) GrantAccessGroup(ctx context.Context, scopeID, groupID, subjectID string) error {
	if err := l.wait(ctx, "grant access group"); err != nil {
		return err
	}
	return l.next.GrantAccessGroup(ctx, scopeID, groupID, subjectID)
}

func (l *limited) DeleteAccessGroup(ctx context.Context, scopeID, groupID string) error {
	if err := l.wait(ctx, "delete access group"); err != nil {
		return err
	}
	return l.next.DeleteAccessGroup(ctx, scopeID, groupID)
}

func (l *limited) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	if err := l.wait(ctx, "create container"); err != nil {
		return "", err
	}
	return l.next.CreateContainer(ctx, spec)
}

func (l *limited) DeleteContainer(ctx context.Context, containerID string) error {
	if err := l.wait(ctx, "delete container"); err != nil {
		return err
	}
	return l.next.DeleteContainer(ctx, containerID)
}

func (l *limited) ContainerExists(ctx context.Context, containerID string) (bool, error) {
	if err := l.wait(ctx, "container exists"); err != nil {
		return false, err
	}
	return l.next.ContainerExists(ctx, containerID)
}

func (l *limited) Suspend(ctx context.Context, scopeID, subjectID string, until time.Time, reason string) error {
	if err := l.wait(ctx, "suspend"); err != nil {
		return err
	}
	return l.next.Suspend(ctx, scopeID, subjectID, until, reason)
}

func (l *limited) Unsuspend(ctx context.Context, scopeID, subjectID string) error {
	if err := l.wait(ctx, "unsuspend"); err != nil {
		return err
	}
	return l.next.Unsuspend(ctx, scopeID, subjectID)
}

func (l *limited) Ban(ctx context.Context, scopeID, subjectID, reason string) error {
	if err := l.wait(ctx, "ban"); err != nil {
		return err
	}
	return l.next.Ban(ctx, scopeID, subjectID, reason)
}

func (l *limited) Unban(ctx context.Context, scopeID, subjectID string) error {
	if err := l.wait(ctx, "unban"); err != nil {
		return err
	}
	return l.next.Unban(ctx, scopeID, subjectID)
}
