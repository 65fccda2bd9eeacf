// SPDX-License-Identifier: MIT

// Package daemon wires the configured components together and runs the session loop
// next to the ops server.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/rbxjoin/internal/cache"
	"github.com/ManuGH/rbxjoin/internal/config"
	"github.com/ManuGH/rbxjoin/internal/dispatch"
	"github.com/ManuGH/rbxjoin/internal/health"
	"github.com/ManuGH/rbxjoin/internal/identity"
	"github.com/ManuGH/rbxjoin/internal/jointicket"
	xglog "github.com/ManuGH/rbxjoin/internal/log"
	"github.com/ManuGH/rbxjoin/internal/model"
	"github.com/ManuGH/rbxjoin/internal/orchestrator"
	"github.com/ManuGH/rbxjoin/internal/presence"
	"github.com/ManuGH/rbxjoin/internal/ratelimit"
	"github.com/ManuGH/rbxjoin/internal/roblox"
	"github.com/ManuGH/rbxjoin/internal/telemetry"
)

// Runtime holds the wired components of one process.
type Runtime struct {
	Config       config.AppConfig
	Client       *roblox.Client
	Resolver     *identity.Resolver
	Monitor      *presence.Monitor
	Negotiator   *jointicket.Negotiator
	Orchestrator *orchestrator.Orchestrator
	Health       *health.Manager
	// Holder tracks the config file; nil without Options.ConfigPath.
	Holder *config.Holder

	version string
	logger  zerolog.Logger
	hooks   []namedHook
}

// Options tweak Bootstrap for commands and tests.
type Options struct {
	Version string
	// Out receives printed join links; defaults to stdout.
	Out io.Writer
	// Starter replaces the process starter of the exec launcher.
	Starter dispatch.CommandStarter
	// ConfigPath enables hot reload of the session cookie and join delay.
	ConfigPath string
}

// Bootstrap builds every component from cfg. Close releases what it opened.
func Bootstrap(ctx context.Context, cfg config.AppConfig, opts Options) (*Runtime, error) {
	logger := xglog.WithComponent("daemon")
	rt := &Runtime{Config: cfg, version: opts.Version, logger: logger}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    cfg.LogService,
		ServiceVersion: opts.Version,
		ExporterType:   cfg.TracingExporter,
		Endpoint:       cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSampling,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry initialization failed, continuing without tracing")
	} else {
		rt.addHook("telemetry", tp.Shutdown)
	}

	limits := ratelimit.DefaultConfig()
	limits.Rate = rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limits.Rate = rate.Inf
	}

	rt.Client = roblox.New(roblox.Options{
		Endpoints: roblox.Endpoints{
			Users:    cfg.UsersURL,
			Presence: cfg.PresenceURL,
			Auth:     cfg.AuthURL,
			Teleport: cfg.TeleportURL,
		},
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
		Limiter:   ratelimit.New(limits),
		Traced:    cfg.TracingEnabled,
	})

	identityCache, pinger := rt.buildCache(ctx)
	rt.Resolver = identity.NewResolver(rt.Client, identityCache, cfg.IdentityCacheTTL)
	rt.Monitor = presence.NewMonitor(rt.Client)
	rt.Negotiator = jointicket.NewNegotiator(rt.Client)

	launcher, err := buildLauncher(cfg, opts)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	var notifier orchestrator.Notifier = dispatch.NopNotifier{}
	if cfg.WebhookURL != "" {
		notifier = dispatch.NewWebhookNotifier(cfg.WebhookURL, cfg.RequestTimeout)
	}

	rt.Orchestrator = orchestrator.New(orchestrator.Deps{
		Resolver:   rt.Resolver,
		Presence:   rt.Monitor,
		Negotiator: rt.Negotiator,
		Launcher:   launcher,
		Notifier:   notifier,
	}, orchestrator.Options{
		Handle:          cfg.TargetUsername,
		Credential:      model.NewSessionCredential(cfg.SessionCookie),
		PollInterval:    cfg.PollInterval,
		JoinDelay:       cfg.JoinDelay,
		ResolveAttempts: cfg.ResolveAttempts,
	})

	if opts.ConfigPath != "" {
		rt.Holder = config.NewHolder(cfg, opts.ConfigPath)
		rt.Holder.OnReload(rt.applyReload)
	}

	rt.Health = health.NewManager(opts.Version)
	rt.Health.RegisterChecker(health.NewMonitorChecker(rt.monitorView))
	if pinger != nil {
		rt.Health.RegisterChecker(health.NewPingChecker("identity_cache", pinger))
	}

	logger.Info().
		Str("target", cfg.TargetUsername).
		Str("launch", cfg.LaunchMode).
		Bool("webhook", cfg.WebhookURL != "").
		Bool("redis", cfg.RedisAddr != "").
		Msg("components ready")
	return rt, nil
}

// buildCache prefers Redis when configured and falls back to memory when it is
// unreachable. The returned ping function is nil for the memory cache.
func (rt *Runtime) buildCache(ctx context.Context) (cache.Cache, func(context.Context) error) {
	cfg := rt.Config
	if cfg.IdentityCacheTTL <= 0 {
		return cache.NewNoOpCache(), nil
	}
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, xglog.WithComponent("cache"))
		if err == nil {
			rt.addHook("redis", func(context.Context) error { return rc.Close() })
			return rc, rc.HealthCheck
		}
		rt.logger.Warn().Err(err).Msg("redis cache unavailable, using memory cache")
	}
	mc := cache.NewMemoryCache(time.Minute)
	rt.addHook("memory_cache", func(context.Context) error { return mc.Close() })
	return mc, nil
}

func buildLauncher(cfg config.AppConfig, opts Options) (orchestrator.Launcher, error) {
	var launchers dispatch.Multi

	switch cfg.LaunchMode {
	case config.LaunchExec:
		exec := dispatch.NewExecLauncher()
		if opts.Starter != nil {
			exec.Starter = opts.Starter
		}
		launchers = append(launchers, dispatch.NewLogLauncher(opts.Out), exec)
	case config.LaunchLog, "":
		launchers = append(launchers, dispatch.NewLogLauncher(opts.Out))
	case config.LaunchNone:
	default:
		return nil, fmt.Errorf("unknown launch mode %q", cfg.LaunchMode)
	}
	if cfg.LinkFile != "" {
		launchers = append(launchers, &dispatch.LinkFileLauncher{Path: cfg.LinkFile})
	}
	if len(launchers) == 0 {
		return dispatch.NopLauncher{}, nil
	}
	return launchers, nil
}

func (rt *Runtime) monitorView() health.MonitorView {
	st := rt.Orchestrator.Status()
	var lastPoll time.Time
	if st.LastPollAt != nil {
		lastPoll = *st.LastPollAt
	}
	return health.MonitorView{
		Resolved:      st.UserID != 0,
		Aborted:       st.State == orchestrator.StateAborted,
		LastPollAt:    lastPoll,
		LastPollError: st.LastPollError,
		PollInterval:  st.PollInterval,
	}
}

func (rt *Runtime) addHook(name string, hook ShutdownHook) {
	rt.hooks = append(rt.hooks, namedHook{name: name, hook: hook})
}

// Close runs the cleanup hooks in reverse order. Use it when no App was started.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.hooks) - 1; i >= 0; i-- {
		if err := rt.hooks[i].hook(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rt.hooks[i].name, err))
		}
	}
	rt.hooks = nil
	return errors.Join(errs...)
}

// NewApp hands the cleanup hooks to a Manager serving the ops endpoints.
func (rt *Runtime) NewApp() (*App, error) {
	var ops = NewOpsHandler(OpsConfig{
		Health: rt.Health,
		Status: func() any { return rt.Orchestrator.Status() },
	})
	mgr, err := NewManager(DefaultServerConfig(rt.Config.OpsAddr), Deps{
		Logger:     rt.logger,
		OpsHandler: ops,
	})
	if err != nil {
		return nil, err
	}
	for _, h := range rt.hooks {
		mgr.RegisterShutdownHook(h.name, h.hook)
	}
	rt.hooks = nil
	app := NewApp(rt.logger, mgr, rt.Orchestrator)
	if rt.Holder != nil {
		app.WithConfigWatcher(rt.Holder)
	}
	return app, nil
}

// applyReload hands rotated secrets to the running session.
func (rt *Runtime) applyReload(old, cur config.AppConfig) {
	if old.SessionCookie == cur.SessionCookie && old.JoinDelay == cur.JoinDelay {
		return
	}
	rt.Orchestrator.Reconfigure(model.NewSessionCredential(cur.SessionCookie), cur.JoinDelay)
	rt.logger.Info().
		Str("event", "session.reconfigured").
		Str("cookie", config.MaskCookie(cur.SessionCookie)).
		Dur("join_delay", cur.JoinDelay).
		Msg("session picked up reloaded config")
}

// WaitForShutdown returns a context cancelled on SIGINT or SIGTERM.
func WaitForShutdown() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
