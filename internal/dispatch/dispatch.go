// SPDX-License-Identifier: MIT

// Package dispatch delivers join directives to the outside world: the desktop client
// through its deep link, a link file, or a chat webhook.
package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// Launcher consumes a deep link. Launching is fire-and-forget.
type Launcher interface {
	Launch(ctx context.Context, uri string) error
}

// Notifier posts free text to an external channel.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, uri string) error

func (f LauncherFunc) Launch(ctx context.Context, uri string) error { return f(ctx, uri) }

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, text string) error

func (f NotifierFunc) Notify(ctx context.Context, text string) error { return f(ctx, text) }

// Multi hands the link to every launcher and joins their errors.
type Multi []Launcher

func (m Multi) Launch(ctx context.Context, uri string) error {
	var errs []error
	for i, l := range m {
		if err := l.Launch(ctx, uri); err != nil {
			errs = append(errs, fmt.Errorf("launcher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// NopNotifier drops every message.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string) error { return nil }

// NopLauncher drops every link.
type NopLauncher struct{}

func (NopLauncher) Launch(context.Context, string) error { return nil }
