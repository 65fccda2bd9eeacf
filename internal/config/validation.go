// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	platformnet "github.com/ManuGH/rbxjoin/internal/platform/net"
)

// MinPollInterval keeps the presence endpoint from being hammered.
const MinPollInterval = time.Second

// Validate reports every invalid setting at once. Each problem is a *FieldError.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(cfg.TargetUsername) == "" {
		add("TargetUsername", "is required (set %s)", EnvTargetUsername)
	}
	if strings.TrimSpace(cfg.SessionCookie) == "" {
		add("SessionCookie", "is required (set %s)", EnvCookie)
	}
	if cfg.PollInterval < MinPollInterval {
		add("PollInterval", "must be at least %s, got %s", MinPollInterval, cfg.PollInterval)
	}
	if cfg.ResolveAttempts < 1 || cfg.ResolveAttempts > 10 {
		add("ResolveAttempts", "must be between 1 and 10, got %d", cfg.ResolveAttempts)
	}
	if cfg.JoinDelay < 0 {
		add("JoinDelay", "must not be negative")
	}
	switch cfg.LaunchMode {
	case LaunchExec, LaunchLog, LaunchNone:
	default:
		add("LaunchMode", "must be one of %s, %s, %s; got %q", LaunchExec, LaunchLog, LaunchNone, cfg.LaunchMode)
	}
	if cfg.RequestTimeout <= 0 {
		add("RequestTimeout", "must be positive")
	}
	if cfg.RateLimit < 0 {
		add("RateLimit", "must not be negative")
	}

	for field, raw := range map[string]string{
		"UsersURL":    cfg.UsersURL,
		"PresenceURL": cfg.PresenceURL,
		"AuthURL":     cfg.AuthURL,
		"TeleportURL": cfg.TeleportURL,
	} {
		if err := validateHTTPURL(raw); err != nil {
			add(field, "%v", err)
		}
	}
	if cfg.WebhookURL != "" {
		if err := validateHTTPURL(cfg.WebhookURL); err != nil {
			add("WebhookURL", "%v", err)
		}
	}

	if cfg.IdentityCacheTTL < 0 {
		add("IdentityCacheTTL", "must not be negative")
	}

	if cfg.TracingEnabled {
		if cfg.TracingExporter != "grpc" && cfg.TracingExporter != "http" {
			add("TracingExporter", "must be grpc or http, got %q", cfg.TracingExporter)
		}
		if cfg.TracingSampling < 0 || cfg.TracingSampling > 1 {
			add("TracingSampling", "must be between 0 and 1")
		}
	}

	return errors.Join(errs...)
}

func validateHTTPURL(raw string) error {
	_, err := platformnet.ParseHTTPURL(raw)
	return err
}
