// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Session is the long running join loop.
type Session interface {
	Run(ctx context.Context) error
}

// ConfigWatcher reloads configuration until ctx is done.
type ConfigWatcher interface {
	Watch(ctx context.Context) error
}

// App runs the session loop next to the manager. An aborted session stops the
// ops server; a failing ops server stops the session.
type App struct {
	logger  zerolog.Logger
	manager Manager
	session Session
	watcher ConfigWatcher
}

// NewApp creates a new App.
func NewApp(logger zerolog.Logger, manager Manager, session Session) *App {
	return &App{
		logger:  logger,
		manager: manager,
		session: session,
	}
}

// WithConfigWatcher runs w next to the session. Watcher failures are logged
// and never stop the app.
func (a *App) WithConfigWatcher(w ConfigWatcher) *App {
	a.watcher = w
	return a
}

// Run blocks until ctx is cancelled or either side fails.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}
	if a.session == nil {
		return ErrMissingSession
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.session.Run(ctx)
		if err != nil {
			a.logger.Error().Err(err).Str("event", "session.stopped").Msg("session loop ended")
		}
		return err
	})

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	if a.watcher != nil {
		g.Go(func() error {
			if err := a.watcher.Watch(ctx); err != nil {
				a.logger.Warn().Err(err).Str("event", "config.watch_failed").Msg("config hot reload disabled")
			}
			return nil
		})
	}

	return g.Wait()
}
