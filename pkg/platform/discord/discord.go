// Package discord implements the platform contract over the Discord
// gateway and REST API. Access groups are roles, containers are voice
// channels, suspensions are member timeouts.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/WoushouW/woushBOT/pkg/model"
	"github.com/WoushouW/woushBOT/pkg/platform"
)

// Intents requested on the gateway: guild lifecycle, member lookups for
// timeouts and display names, and ban events.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers | discordgo.IntentsGuildBans

// Client is a platform.Platform and platform.Connector backed by discordgo.
type Client struct {
	s      *discordgo.Session
	logger *slog.Logger

	mu       sync.Mutex
	removers []func()
}

// New creates a client for a bot token. The connection opens in Open.
func New(token string, logger *slog.Logger) (*Client, error) {
	if token == "" {
		return nil, errors.New("discord: empty bot token")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	s.Identify.Intents = Intents
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{s: s, logger: logger}, nil
}

// Open registers gateway handlers that translate events for sink and
// opens the websocket.
func (c *Client) Open(_ context.Context, sink func(platform.Event)) error {
	c.mu.Lock()
	c.removers = append(c.removers,
		c.s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			ids := make([]string, 0, len(r.Guilds))
			for _, g := range r.Guilds {
				ids = append(ids, g.ID)
			}
			c.logger.Info("gateway ready", "user", r.User.Username, "guilds", len(ids))
			sink(platform.ReadyEvent{ScopeIDs: ids})
		}),
		c.s.AddHandler(func(_ *discordgo.Session, ev *discordgo.ChannelDelete) {
			if ev.Channel == nil {
				return
			}
			sink(platform.ContainerDeletedEvent{ScopeID: ev.GuildID, ContainerID: ev.ID})
		}),
		c.s.AddHandler(func(_ *discordgo.Session, ev *discordgo.GuildBanRemove) {
			if ev.User == nil {
				return
			}
			sink(platform.BanRemovedEvent{ScopeID: ev.GuildID, SubjectID: ev.User.ID})
		}),
	)
	c.mu.Unlock()

	if err := c.s.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	return nil
}

// Close removes the handlers and closes the websocket.
func (c *Client) Close() error {
	c.mu.Lock()
	for _, rm := range c.removers {
		rm()
	}
	c.removers = nil
	c.mu.Unlock()
	return c.s.Close()
}

func opts(ctx context.Context, reason string) []discordgo.RequestOption {
	o := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		o = append(o, discordgo.WithAuditLogReason(reason))
	}
	return o
}

// mapErr turns REST 404s into platform.ErrNotFound.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("discord: %s: %w: %v", op, platform.ErrNotFound, err)
	}
	return fmt.Errorf("discord: %s: %w", op, err)
}

func displayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User != nil {
		return m.User.Username
	}
	return ""
}

func (c *Client) ResolveSubject(ctx context.Context, scopeID, subjectID string) (model.Subject, error) {
	m, err := c.s.State.Member(scopeID, subjectID)
	if err != nil {
		m, err = c.s.GuildMember(scopeID, subjectID, opts(ctx, "")...)
		if err != nil {
			return model.Subject{}, mapErr("resolve member", err)
		}
	}
	return model.Subject{ID: subjectID, Label: displayName(m)}, nil
}

func (c *Client) ResolveScope(ctx context.Context, scopeID string) (model.Scope, error) {
	g, err := c.s.State.Guild(scopeID)
	if err != nil {
		g, err = c.s.Guild(scopeID, opts(ctx, "")...)
		if err != nil {
			return model.Scope{}, mapErr("resolve guild", err)
		}
	}
	return model.Scope{ID: g.ID, Label: g.Name}, nil
}

func (c *Client) CreateAccessGroup(ctx context.Context, scopeID, name string) (string, error) {
	r, err := c.s.GuildRoleCreate(scopeID, &discordgo.RoleParams{Name: name}, opts(ctx, "temporary room")...)
	if err != nil {
		return "", mapErr("create role", err)
	}
	return r.ID, nil
}

func (c *Client) GrantAccessGroup(ctx context.Context, scopeID, groupID, subjectID string) error {
	return mapErr("add member role", c.s.GuildMemberRoleAdd(scopeID, subjectID, groupID, opts(ctx, "temporary room")...))
}

func (c *Client) DeleteAccessGroup(ctx context.Context, scopeID, groupID string) error {
	return mapErr("delete role", c.s.GuildRoleDelete(scopeID, groupID, opts(ctx, "temporary room closed")...))
}

func permBits(p platform.Permission) int64 {
	var out int64
	if p.Has(platform.PermView) {
		out |= discordgo.PermissionViewChannel
	}
	if p.Has(platform.PermConnect) {
		out |= discordgo.PermissionVoiceConnect
	}
	if p.Has(platform.PermSpeak) {
		out |= discordgo.PermissionVoiceSpeak
	}
	if p.Has(platform.PermManageRoles) {
		out |= discordgo.PermissionManageRoles
	}
	if p.Has(platform.PermManageContainer) {
		out |= discordgo.PermissionManageChannels
	}
	return out
}

func (c *Client) overwrites(spec platform.ContainerSpec) []*discordgo.PermissionOverwrite {
	out := make([]*discordgo.PermissionOverwrite, 0, len(spec.Overrides)+1)
	for _, o := range spec.Overrides {
		ow := &discordgo.PermissionOverwrite{Allow: permBits(o.Allow), Deny: permBits(o.Deny)}
		switch o.Kind {
		case platform.TargetDefault:
			// @everyone shares the guild id.
			ow.ID, ow.Type = spec.ScopeID, discordgo.PermissionOverwriteTypeRole
		case platform.TargetGroup:
			ow.ID, ow.Type = o.TargetID, discordgo.PermissionOverwriteTypeRole
		case platform.TargetMember:
			ow.ID, ow.Type = o.TargetID, discordgo.PermissionOverwriteTypeMember
		}
		out = append(out, ow)
	}
	if c.s.State != nil && c.s.State.User != nil {
		out = append(out, &discordgo.PermissionOverwrite{
			ID:    c.s.State.User.ID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: permBits(platform.PermView | platform.PermConnect | platform.PermManageContainer | platform.PermManageRoles),
		})
	}
	return out
}

func (c *Client) CreateContainer(ctx context.Context, spec platform.ContainerSpec) (string, error) {
	ch, err := c.s.GuildChannelCreateComplex(spec.ScopeID, discordgo.GuildChannelCreateData{
		Name:                 spec.Name,
		Type:                 discordgo.ChannelTypeGuildVoice,
		UserLimit:            spec.Capacity,
		ParentID:             spec.ParentID,
		PermissionOverwrites: c.overwrites(spec),
	}, opts(ctx, "temporary room")...)
	if err != nil {
		return "", mapErr("create channel", err)
	}
	return ch.ID, nil
}

func (c *Client) DeleteContainer(ctx context.Context, containerID string) error {
	_, err := c.s.ChannelDelete(containerID, opts(ctx, "temporary room closed")...)
	return mapErr("delete channel", err)
}

func (c *Client) ContainerExists(ctx context.Context, containerID string) (bool, error) {
	if _, err := c.s.State.Channel(containerID); err == nil {
		return true, nil
	}
	_, err := c.s.Channel(containerID, opts(ctx, "")...)
	if err == nil {
		return true, nil
	}
	if err = mapErr("get channel", err); errors.Is(err, platform.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (c *Client) Suspend(ctx context.Context, scopeID, subjectID string, until time.Time, reason string) error {
	return mapErr("timeout member", c.s.GuildMemberTimeout(scopeID, subjectID, &until, opts(ctx, reason)...))
}

func (c *Client) Unsuspend(ctx context.Context, scopeID, subjectID string) error {
	return mapErr("remove timeout", c.s.GuildMemberTimeout(scopeID, subjectID, nil, opts(ctx, "")...))
}

func (c *Client) Ban(ctx context.Context, scopeID, subjectID, reason string) error {
	return mapErr("ban", c.s.GuildBanCreateWithReason(scopeID, subjectID, reason, 0, opts(ctx, "")...))
}

func (c *Client) Unban(ctx context.Context, scopeID, subjectID string) error {
	return mapErr("unban", c.s.GuildBanDelete(scopeID, subjectID, opts(ctx, "")...))
}

var (
	_ platform.Platform  = (*Client)(nil)
	_ platform.Connector = (*Client)(nil)
)
