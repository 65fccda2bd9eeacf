// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command rbxjoin watches one player's presence and joins their game server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ManuGH/rbxjoin/internal/config"
	"github.com/ManuGH/rbxjoin/internal/daemon"
	"github.com/ManuGH/rbxjoin/internal/health"
	"github.com/ManuGH/rbxjoin/internal/identity"
	xglog "github.com/ManuGH/rbxjoin/internal/log"
	"github.com/ManuGH/rbxjoin/internal/orchestrator"
	"github.com/ManuGH/rbxjoin/internal/version"
)

// envConfigPath names the config file when --config is not given.
const envConfigPath = "RBXJOIN_CONFIG"

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 {
		switch args[0] {
		case "healthcheck":
			return runHealthcheckCLI(args[1:])
		case "config":
			return runConfigCLI(args[1:])
		}
	}

	fs := flag.NewFlagSet("rbxjoin", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(fs) }
	showVersion := fs.Bool("version", false, "print version and exit")
	configPath := fs.String("config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.String())
		return 0
	}

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(envConfigPath))
	}

	xglog.Configure(xglog.Config{Level: "info", Version: version.Version})

	ctx, stop := daemon.WaitForShutdown()
	defer stop()

	rest := fs.Args()
	cmd := "run"
	if len(rest) > 0 {
		cmd = rest[0]
		rest = rest[1:]
	}

	switch cmd {
	case "run":
		return runDaemon(ctx, path)
	case "once":
		return runOnce(ctx, path)
	case "resolve":
		return runResolve(ctx, path, rest)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		printUsage(fs)
		return 2
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintln(stderr, "Usage:")
	fmt.Fprintln(stderr, "  rbxjoin [--config file] [run]     watch the target and join every new game")
	fmt.Fprintln(stderr, "  rbxjoin [--config file] once      join the target's current game and exit")
	fmt.Fprintln(stderr, "  rbxjoin [--config file] resolve <username>")
	fmt.Fprintln(stderr, "  rbxjoin healthcheck [--addr host:port] [--mode ready|live]")
	fmt.Fprintln(stderr, "  rbxjoin config validate|dump")
	fmt.Fprintln(stderr, "  rbxjoin --version")
	fmt.Fprintln(stderr, "\nFlags:")
	fs.PrintDefaults()
}

// loadConfig loads the configuration and reconfigures the logger from it.
func loadConfig(path string, validate bool) (config.AppConfig, error) {
	logger := xglog.WithComponent("cli")
	loader := config.NewLoader(path)

	var (
		cfg config.AppConfig
		err error
	)
	if validate {
		cfg, err = loader.Load()
	} else {
		cfg, err = loader.LoadUnvalidated()
	}
	if err != nil {
		logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
		return cfg, err
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: version.Version,
	})

	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	cliLogger := xglog.WithComponent("cli")
	cliLogger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str("path", path).
		Str(xglog.FieldHandle, cfg.TargetUsername).
		Str("cookie", config.MaskCookie(cfg.SessionCookie)).
		Dur("poll_interval", cfg.PollInterval).
		Msg("configuration loaded")
	return cfg, nil
}

func runDaemon(ctx context.Context, path string) int {
	cfg, err := loadConfig(path, true)
	if err != nil {
		return 1
	}
	logger := xglog.WithComponent("cli")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
		return 1
	}

	rt, err := daemon.Bootstrap(ctx, cfg, daemon.Options{Version: version.Version, ConfigPath: path})
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize")
		return 1
	}
	app, err := rt.NewApp()
	if err != nil {
		_ = rt.Close(context.Background())
		logger.Error().Err(err).Msg("failed to initialize ops server")
		return 1
	}

	logger.Info().
		Str("version", version.Version).
		Str("ops_addr", cfg.OpsAddr).
		Msg("starting rbxjoin")

	if err := app.Run(ctx); err != nil {
		if errors.Is(err, orchestrator.ErrAborted) {
			logger.Error().Err(err).Msg("session aborted")
		} else {
			logger.Error().Err(err).Msg("daemon stopped with error")
		}
		return 1
	}
	logger.Info().Msg("rbxjoin stopped")
	return 0
}

func runOnce(ctx context.Context, path string) int {
	cfg, err := loadConfig(path, true)
	if err != nil {
		return 1
	}
	logger := xglog.WithComponent("cli")

	rt, err := daemon.Bootstrap(ctx, cfg, daemon.Options{Version: version.Version, Out: stdout})
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize")
		return 1
	}
	defer func() { _ = rt.Close(context.Background()) }()

	directive, err := rt.Orchestrator.Once(ctx)
	switch {
	case errors.Is(err, orchestrator.ErrNotInGame):
		fmt.Fprintf(stderr, "%s is not in a game right now\n", cfg.TargetUsername)
		return 3
	case err != nil:
		logger.Error().Err(err).Msg("join failed")
		return 1
	}
	logger.Info().Str("directive", directive.Summary()).Msg("joined once")
	return 0
}

func runResolve(ctx context.Context, path string, args []string) int {
	cfg, err := loadConfig(path, false)
	if err != nil {
		return 1
	}
	handle := cfg.TargetUsername
	if len(args) > 0 {
		handle = args[0]
	}
	if strings.TrimSpace(handle) == "" {
		fmt.Fprintln(stderr, "Usage: rbxjoin resolve <username>")
		return 2
	}
	cfg.TargetUsername = handle
	cfg.LaunchMode = config.LaunchNone
	cfg.LinkFile = ""
	cfg.WebhookURL = ""

	rt, err := daemon.Bootstrap(ctx, cfg, daemon.Options{Version: version.Version})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = rt.Close(context.Background()) }()

	id, err := rt.Resolver.Resolve(ctx, handle)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownHandle) {
			fmt.Fprintf(stderr, "No account named %q\n", handle)
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	fmt.Fprintf(stdout, "%s %d\n", id.Handle, id.NumericID)
	return 0
}
