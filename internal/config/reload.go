// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	xglog "github.com/ManuGH/rbxjoin/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDebounce collapses the burst of events editors emit on save.
const DefaultReloadDebounce = 500 * time.Millisecond

// ReloadFunc receives the previous and the newly applied configuration.
type ReloadFunc func(old, cur AppConfig)

// Holder owns the live configuration and reloads it from the config file.
// Only SessionCookie and JoinDelay take effect without a restart; changes to
// other fields are applied to the holder but logged as requiring a restart.
type Holder struct {
	mu       sync.RWMutex
	current  AppConfig
	path     string
	debounce time.Duration
	logger   zerolog.Logger

	listenersMu sync.RWMutex
	listeners   []ReloadFunc
}

// NewHolder wraps an already loaded configuration. An empty path disables Watch.
func NewHolder(initial AppConfig, path string) *Holder {
	return &Holder{
		current:  initial,
		path:     path,
		debounce: DefaultReloadDebounce,
		logger:   xglog.WithComponent("config"),
	}
}

// SetDebounce overrides the reload debounce. Call before Watch.
func (h *Holder) SetDebounce(d time.Duration) {
	if d > 0 {
		h.debounce = d
	}
}

// Get returns the current configuration.
func (h *Holder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// OnReload registers fn to run after every successful reload.
func (h *Holder) OnReload(fn ReloadFunc) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Reload loads and validates the file again. On failure the current
// configuration is kept and the error is returned.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	next, err := NewLoader(h.path).Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.reload_failed").
			Msg("new configuration rejected, keeping current")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	old := h.current
	h.current = next
	h.mu.Unlock()

	h.logChanges(old, next)

	h.listenersMu.RLock()
	listeners := append([]ReloadFunc(nil), h.listeners...)
	h.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(old, next)
	}

	h.logger.Info().Str("event", "config.reload_success").Msg("configuration reloaded")
	return nil
}

// Watch blocks until ctx is done, reloading after the config file changes.
// The parent directory is watched so atomic rename-on-save is picked up.
func (h *Holder) Watch(ctx context.Context) error {
	if h.path == "" {
		h.logger.Info().
			Str("event", "config.watcher_disabled").
			Msg("no config file, watcher disabled")
		return nil
	}

	target, err := filepath.Abs(h.path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	h.logger.Info().
		Str("event", "config.watcher_started").
		Str("path", target).
		Msg("watching config file for changes")

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug().
				Str("event", "config.file_changed").
				Str("op", ev.Op.String()).
				Msg("config file changed")
			if timer == nil {
				timer = time.NewTimer(h.debounce)
			} else {
				timer.Reset(h.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := h.Reload(ctx); err != nil {
				h.logger.Warn().
					Err(err).
					Str("event", "config.auto_reload_failed").
					Msg("automatic config reload failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Error().
				Err(err).
				Str("event", "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

func (h *Holder) logChanges(old, cur AppConfig) {
	if old.SessionCookie != cur.SessionCookie {
		h.logger.Info().
			Str("old", MaskCookie(old.SessionCookie)).
			Str("new", MaskCookie(cur.SessionCookie)).
			Msg("config changed: SessionCookie")
	}
	if old.JoinDelay != cur.JoinDelay {
		h.logger.Info().
			Dur("old", old.JoinDelay).
			Dur("new", cur.JoinDelay).
			Msg("config changed: JoinDelay")
	}
	if fields := restartRequired(old, cur); len(fields) > 0 {
		h.logger.Warn().
			Strs("fields", fields).
			Str("event", "config.restart_required").
			Msg("changed settings take effect after restart")
	}
}

// restartRequired lists changed fields that the running session does not pick up.
func restartRequired(old, cur AppConfig) []string {
	var out []string
	check := func(name string, changed bool) {
		if changed {
			out = append(out, name)
		}
	}
	check("TargetUsername", old.TargetUsername != cur.TargetUsername)
	check("PollInterval", old.PollInterval != cur.PollInterval)
	check("ResolveAttempts", old.ResolveAttempts != cur.ResolveAttempts)
	check("LaunchMode", old.LaunchMode != cur.LaunchMode)
	check("LinkFile", old.LinkFile != cur.LinkFile)
	check("WebhookURL", old.WebhookURL != cur.WebhookURL)
	check("RequestTimeout", old.RequestTimeout != cur.RequestTimeout)
	check("RateLimit", old.RateLimit != cur.RateLimit)
	check("UsersURL", old.UsersURL != cur.UsersURL)
	check("PresenceURL", old.PresenceURL != cur.PresenceURL)
	check("AuthURL", old.AuthURL != cur.AuthURL)
	check("TeleportURL", old.TeleportURL != cur.TeleportURL)
	check("UserAgent", old.UserAgent != cur.UserAgent)
	check("IdentityCacheTTL", old.IdentityCacheTTL != cur.IdentityCacheTTL)
	check("RedisAddr", old.RedisAddr != cur.RedisAddr)
	check("RedisPassword", old.RedisPassword != cur.RedisPassword)
	check("RedisDB", old.RedisDB != cur.RedisDB)
	check("OpsAddr", old.OpsAddr != cur.OpsAddr)
	check("Tracing", old.TracingEnabled != cur.TracingEnabled ||
		old.TracingExporter != cur.TracingExporter ||
		old.TracingEndpoint != cur.TracingEndpoint ||
		old.TracingSampling != cur.TracingSampling)
	check("Logging", old.LogLevel != cur.LogLevel || old.LogService != cur.LogService)
	return out
}
