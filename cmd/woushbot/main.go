package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/WoushouW/woushBOT/pkg/datastore"
	"github.com/WoushouW/woushBOT/pkg/ledger"
	"github.com/WoushouW/woushBOT/pkg/logging"
	"github.com/WoushouW/woushBOT/pkg/platform/discord"
	"github.com/WoushouW/woushBOT/pkg/platform/memory"
	"github.com/WoushouW/woushBOT/pkg/server"
	"github.com/WoushouW/woushBOT/pkg/version"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "woushbot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	def := server.DefaultConfig()

	var (
		configPath  string
		showVersion bool
		flagCfg     = def
	)
	flagSet := pflag.NewFlagSet("woushbot", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "YAML config file")
	flagSet.StringVar(&flagCfg.Platform.Kind, "platform", def.Platform.Kind, "realtime platform: discord or memory")
	flagSet.StringVar(&flagCfg.Ledger.Path, "ledger", def.Ledger.Path, "SQLite ledger file (empty keeps records in memory)")
	flagSet.StringVar(&flagCfg.Rooms.CategoryID, "category", "", "category new rooms are created under")
	flagSet.StringVar(&flagCfg.MetricsAddr, "metrics", def.MetricsAddr, "HTTP bind address for /metrics (empty to disable)")
	flagSet.StringVar(&flagCfg.Log.Level, "log-level", def.Log.Level, "log level: "+logging.LevelNames())
	flagSet.StringVar(&flagCfg.Log.Format, "log-format", def.Log.Format, "log format: "+logging.FormatNames())
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if showVersion {
		fmt.Println("woushbot", version.Full())
		return nil
	}

	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return err
	}
	// Flags given on the command line win over file and environment.
	overrides := map[string]func(){
		"platform":   func() { cfg.Platform.Kind = flagCfg.Platform.Kind },
		"ledger":     func() { cfg.Ledger.Path = flagCfg.Ledger.Path },
		"category":   func() { cfg.Rooms.CategoryID = flagCfg.Rooms.CategoryID },
		"metrics":    func() { cfg.MetricsAddr = flagCfg.MetricsAddr },
		"log-level":  func() { cfg.Log.Level = flagCfg.Log.Level },
		"log-format": func() { cfg.Log.Format = flagCfg.Log.Format },
	}
	for name, apply := range overrides {
		if flagSet.Changed(name) {
			apply()
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config:\n%w", err)
	}

	if err := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	}); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	slog.Info("starting woushbot", "version", version.String())

	led, err := openLedger(cfg)
	if err != nil {
		return err
	}

	var deps server.Dependencies
	switch cfg.Platform.Kind {
	case server.PlatformDiscord:
		client, err := discord.New(cfg.Platform.Token, logging.Component(slog.Default(), "discord"))
		if err != nil {
			_ = led.Close()
			return err
		}
		deps = server.Dependencies{Ledger: led, Platform: client, Connector: client}
	default:
		sim := memory.New()
		slog.Warn("running against the in-memory platform, nothing reaches a real server")
		deps = server.Dependencies{Ledger: led, Platform: sim, Connector: sim}
	}

	srv, err := server.New(cfg, deps)
	if err != nil {
		_ = led.Close()
		return err
	}
	return srv.Run(context.Background())
}

func openLedger(cfg server.Config) (ledger.Ledger, error) {
	if cfg.Ledger.Path == "" {
		slog.Warn("no ledger path configured, records are kept in memory only")
		return ledger.NewMemory(), nil
	}
	led, err := datastore.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return led, nil
}
