// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvTargetUsername   = "RBXJOIN_TARGET_USERNAME"
	EnvCookie           = "RBXJOIN_COOKIE"
	EnvPollInterval     = "RBXJOIN_POLL_INTERVAL"
	EnvResolveAttempts  = "RBXJOIN_RESOLVE_ATTEMPTS"
	EnvJoinDelay        = "RBXJOIN_JOIN_DELAY"
	EnvLaunch           = "RBXJOIN_LAUNCH"
	EnvLinkFile         = "RBXJOIN_LINK_FILE"
	EnvWebhookURL       = "RBXJOIN_WEBHOOK_URL"
	EnvRequestTimeout   = "RBXJOIN_REQUEST_TIMEOUT"
	EnvRateLimit        = "RBXJOIN_RATE_LIMIT"
	EnvUsersURL         = "RBXJOIN_USERS_URL"
	EnvPresenceURL      = "RBXJOIN_PRESENCE_URL"
	EnvAuthURL          = "RBXJOIN_AUTH_URL"
	EnvTeleportURL      = "RBXJOIN_TELEPORT_URL"
	EnvUserAgent        = "RBXJOIN_USER_AGENT"
	EnvIdentityCacheTTL = "RBXJOIN_IDENTITY_CACHE_TTL"
	EnvRedisAddr        = "RBXJOIN_REDIS_ADDR"
	EnvRedisPassword    = "RBXJOIN_REDIS_PASSWORD"
	EnvRedisDB          = "RBXJOIN_REDIS_DB"
	EnvOpsAddr          = "RBXJOIN_OPS_ADDR"
	EnvTracingEnabled   = "RBXJOIN_TRACING_ENABLED"
	EnvTracingExporter  = "RBXJOIN_TRACING_EXPORTER"
	EnvTracingEndpoint  = "RBXJOIN_TRACING_ENDPOINT"
	EnvTracingSampling  = "RBXJOIN_TRACING_SAMPLING"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogService       = "LOG_SERVICE"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader. An empty path skips the file layer.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath:      configPath,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envLookup(key string) (string, bool) {
	l.ConsumedEnvKeys[key] = struct{}{}
	return os.LookupEnv(key)
}

// Load loads configuration with precedence: ENV > File > Defaults, then validates it.
func (l *Loader) Load() (AppConfig, error) {
	cfg, err := l.LoadUnvalidated()
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadUnvalidated merges defaults, file and environment without validating. Commands
// that need only part of the configuration use it.
func (l *Loader) LoadUnvalidated() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	return cfg, nil
}

// LoadFileConfig loads a YAML config file without applying defaults or env overrides.
func LoadFileConfig(path string) (*FileConfig, error) {
	return NewLoader(path).loadFile(path)
}

func (l *Loader) loadFile(path string) (*FileConfig, error) {
	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(expandEnv(data)))
	dec.KnownFields(true) // Reject unknown fields

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	// Strict: Ensure no multiple documents or trailing content
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

func mergeFileConfig(cfg *AppConfig, f *FileConfig) error {
	if f == nil {
		return nil
	}
	var errs []error
	dur := func(field, raw string, dst *time.Duration) {
		if raw == "" {
			return
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, &FieldError{Field: field, Reason: fmt.Sprintf("invalid duration %q", raw)})
			return
		}
		*dst = d
	}
	str := func(raw string, dst *string) {
		if raw != "" {
			*dst = raw
		}
	}

	if t := f.Target; t != nil {
		str(t.Username, &cfg.TargetUsername)
	}
	if s := f.Session; s != nil {
		str(s.Cookie, &cfg.SessionCookie)
	}
	if m := f.Monitor; m != nil {
		dur("monitor.pollInterval", m.PollInterval, &cfg.PollInterval)
		if m.ResolveAttempts != nil {
			cfg.ResolveAttempts = *m.ResolveAttempts
		}
	}
	if j := f.Join; j != nil {
		dur("join.delay", j.Delay, &cfg.JoinDelay)
		str(j.Launch, &cfg.LaunchMode)
		str(j.LinkFile, &cfg.LinkFile)
	}
	if n := f.Notify; n != nil {
		str(n.WebhookURL, &cfg.WebhookURL)
	}
	if h := f.HTTP; h != nil {
		dur("http.timeout", h.Timeout, &cfg.RequestTimeout)
		if h.RateLimit != nil {
			cfg.RateLimit = *h.RateLimit
		}
		str(h.UsersURL, &cfg.UsersURL)
		str(h.PresenceURL, &cfg.PresenceURL)
		str(h.AuthURL, &cfg.AuthURL)
		str(h.TeleportURL, &cfg.TeleportURL)
		str(h.UserAgent, &cfg.UserAgent)
	}
	if c := f.Cache; c != nil {
		dur("cache.identityTTL", c.IdentityTTL, &cfg.IdentityCacheTTL)
		str(c.RedisAddr, &cfg.RedisAddr)
		str(c.RedisPassword, &cfg.RedisPassword)
		if c.RedisDB != nil {
			cfg.RedisDB = *c.RedisDB
		}
	}
	if o := f.Ops; o != nil && o.Addr != nil {
		cfg.OpsAddr = *o.Addr
	}
	if t := f.Tracing; t != nil {
		if t.Enabled != nil {
			cfg.TracingEnabled = *t.Enabled
		}
		str(t.Exporter, &cfg.TracingExporter)
		str(t.Endpoint, &cfg.TracingEndpoint)
		if t.Sampling != nil {
			cfg.TracingSampling = *t.Sampling
		}
	}
	if lg := f.Log; lg != nil {
		str(lg.Level, &cfg.LogLevel)
		str(lg.Service, &cfg.LogService)
	}
	return errors.Join(errs...)
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.TargetUsername = l.envString(EnvTargetUsername, cfg.TargetUsername)
	cfg.SessionCookie = l.envString(EnvCookie, cfg.SessionCookie)

	cfg.PollInterval = l.envDuration(EnvPollInterval, cfg.PollInterval)
	cfg.ResolveAttempts = l.envInt(EnvResolveAttempts, cfg.ResolveAttempts)

	cfg.JoinDelay = l.envDuration(EnvJoinDelay, cfg.JoinDelay)
	cfg.LaunchMode = l.envString(EnvLaunch, cfg.LaunchMode)
	cfg.LinkFile = l.envString(EnvLinkFile, cfg.LinkFile)

	cfg.WebhookURL = l.envString(EnvWebhookURL, cfg.WebhookURL)

	cfg.RequestTimeout = l.envDuration(EnvRequestTimeout, cfg.RequestTimeout)
	cfg.RateLimit = l.envFloat(EnvRateLimit, cfg.RateLimit)
	cfg.UsersURL = l.envString(EnvUsersURL, cfg.UsersURL)
	cfg.PresenceURL = l.envString(EnvPresenceURL, cfg.PresenceURL)
	cfg.AuthURL = l.envString(EnvAuthURL, cfg.AuthURL)
	cfg.TeleportURL = l.envString(EnvTeleportURL, cfg.TeleportURL)
	cfg.UserAgent = l.envString(EnvUserAgent, cfg.UserAgent)

	cfg.IdentityCacheTTL = l.envDuration(EnvIdentityCacheTTL, cfg.IdentityCacheTTL)
	cfg.RedisAddr = l.envString(EnvRedisAddr, cfg.RedisAddr)
	cfg.RedisPassword = l.envString(EnvRedisPassword, cfg.RedisPassword)
	cfg.RedisDB = l.envInt(EnvRedisDB, cfg.RedisDB)

	// An explicitly empty RBXJOIN_OPS_ADDR disables the ops server.
	if v, ok := l.envLookup(EnvOpsAddr); ok {
		cfg.OpsAddr = strings.TrimSpace(v)
	}

	cfg.TracingEnabled = l.envBool(EnvTracingEnabled, cfg.TracingEnabled)
	cfg.TracingExporter = l.envString(EnvTracingExporter, cfg.TracingExporter)
	cfg.TracingEndpoint = l.envString(EnvTracingEndpoint, cfg.TracingEndpoint)
	cfg.TracingSampling = l.envFloat(EnvTracingSampling, cfg.TracingSampling)

	cfg.LogLevel = l.envString(EnvLogLevel, cfg.LogLevel)
	cfg.LogService = l.envString(EnvLogService, cfg.LogService)
}
