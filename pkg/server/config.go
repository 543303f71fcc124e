package server

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/WoushouW/woushBOT/pkg/logging"
	"github.com/WoushouW/woushBOT/pkg/model"
)

// Platform kinds.
const (
	PlatformDiscord = "discord"
	PlatformMemory  = "memory"
)

// Config holds daemon configuration. Values come from DefaultConfig, then
// an optional YAML file, then the environment, then command-line flags.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Platform   PlatformConfig   `yaml:"platform"`
	Rooms      RoomsConfig      `yaml:"rooms"`
	Moderation ModerationConfig `yaml:"moderation"`
	Control    ControlConfig    `yaml:"control"`

	MetricsAddr   string        `yaml:"metrics_addr"` // HTTP bind address for /metrics (empty = disabled)
	LedgerTimeout time.Duration `yaml:"ledger_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type LedgerConfig struct {
	Path string `yaml:"path"` // SQLite file; empty keeps the ledger in memory
}

type PlatformConfig struct {
	Kind          string  `yaml:"kind"`
	Token         string  `yaml:"token" env:"DISCORD_TOKEN"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

type RoomsConfig struct {
	CategoryID    string        `yaml:"category_id" env:"ROOM_CATEGORY_ID"`
	CreateTimeout time.Duration `yaml:"create_timeout"`
	Timeout       time.Duration `yaml:"timeout"`
	TombstoneTTL  time.Duration `yaml:"tombstone_ttl"`
}

type ModerationConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	WarningThreshold int           `yaml:"warning_threshold"`
	EscalationBan    time.Duration `yaml:"escalation_ban"`
	MaxSuspend       time.Duration `yaml:"max_suspend"`
}

type ControlConfig struct {
	AdminPIN       string `yaml:"admin_pin" env:"ADMIN_PIN"`
	RoomManagerPIN string `yaml:"room_manager_pin" env:"ROOM_MANAGER_PIN"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Log:    LogConfig{Level: "info", Format: "text"},
		Ledger: LedgerConfig{Path: "woushbot.db"},
		Platform: PlatformConfig{
			Kind:          PlatformDiscord,
			RatePerSecond: 5,
			Burst:         5,
		},
		Rooms: RoomsConfig{
			CreateTimeout: 15 * time.Second,
			Timeout:       10 * time.Second,
			TombstoneTTL:  time.Hour,
		},
		Moderation: ModerationConfig{
			Timeout:          10 * time.Second,
			WarningThreshold: model.DefaultWarningThreshold,
			EscalationBan:    24 * time.Hour,
			MaxSuspend:       28 * 24 * time.Hour,
		},
		MetricsAddr:   ":9602",
		LedgerTimeout: 5 * time.Second,
	}
}

// LoadConfig reads path (skipped when empty) over the defaults and then
// applies the environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate reports every unusable value at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if err := logging.Validate(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if err := logging.ValidateFormat(c.Log.Format); err != nil {
		errs = append(errs, err)
	}

	switch c.Platform.Kind {
	case PlatformDiscord:
		if c.Platform.Token == "" {
			add("platform.token is required for the discord platform (or set DISCORD_TOKEN)")
		}
	case PlatformMemory:
	default:
		add("platform.kind %q is not one of %s, %s", c.Platform.Kind, PlatformDiscord, PlatformMemory)
	}
	if c.Platform.RatePerSecond < 0 {
		add("platform.rate_per_second must not be negative")
	}

	for _, d := range []struct {
		key string
		v   time.Duration
	}{
		{"rooms.create_timeout", c.Rooms.CreateTimeout},
		{"rooms.timeout", c.Rooms.Timeout},
		{"moderation.timeout", c.Moderation.Timeout},
		{"moderation.max_suspend", c.Moderation.MaxSuspend},
		{"ledger_timeout", c.LedgerTimeout},
	} {
		if d.v <= 0 {
			add("%s must be positive", d.key)
		}
	}
	if c.Rooms.TombstoneTTL < 0 {
		add("rooms.tombstone_ttl must not be negative")
	}
	if c.Moderation.EscalationBan < 0 {
		add("moderation.escalation_ban must not be negative")
	}
	if c.Moderation.WarningThreshold < 1 {
		add("moderation.warning_threshold must be at least 1")
	}
	if c.Control.AdminPIN != "" && c.Control.AdminPIN == c.Control.RoomManagerPIN {
		add("control.admin_pin and control.room_manager_pin must differ")
	}

	return errors.Join(errs...)
}
