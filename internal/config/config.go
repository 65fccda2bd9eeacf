// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Default platform endpoints.
const (
	DefaultUsersURL    = "https://api.roblox.com/users/get-by-username"
	DefaultPresenceURL = "https://presence.roblox.com/v1/presence/users"
	DefaultAuthURL     = "https://auth.roblox.com/v1/authentication-ticket"
	DefaultTeleportURL = "https://www.roblox.com/games/teleport"
)

// Launch modes.
const (
	LaunchExec = "exec"
	LaunchLog  = "log"
	LaunchNone = "none"
)

// AppConfig is the effective runtime configuration.
type AppConfig struct {
	// Target
	TargetUsername string

	// Session cookie of the joining account. Secret.
	SessionCookie string

	// Monitor
	PollInterval    time.Duration
	ResolveAttempts int

	// Join
	JoinDelay  time.Duration
	LaunchMode string
	LinkFile   string

	// Notify
	WebhookURL string

	// Upstream HTTP
	RequestTimeout time.Duration
	RateLimit      float64
	UsersURL       string
	PresenceURL    string
	AuthURL        string
	TeleportURL    string
	UserAgent      string

	// Identity cache
	IdentityCacheTTL time.Duration
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	// Ops server
	OpsAddr string

	// Tracing
	TracingEnabled  bool
	TracingExporter string
	TracingEndpoint string
	TracingSampling float64

	// Logging
	LogLevel   string
	LogService string
}

// FileConfig mirrors the YAML file layout. Pointer fields distinguish "unset" from zero.
type FileConfig struct {
	Target  *TargetFileConfig  `yaml:"target,omitempty"`
	Session *SessionFileConfig `yaml:"session,omitempty"`
	Monitor *MonitorFileConfig `yaml:"monitor,omitempty"`
	Join    *JoinFileConfig    `yaml:"join,omitempty"`
	Notify  *NotifyFileConfig  `yaml:"notify,omitempty"`
	HTTP    *HTTPFileConfig    `yaml:"http,omitempty"`
	Cache   *CacheFileConfig   `yaml:"cache,omitempty"`
	Ops     *OpsFileConfig     `yaml:"ops,omitempty"`
	Tracing *TracingFileConfig `yaml:"tracing,omitempty"`
	Log     *LogFileConfig     `yaml:"log,omitempty"`
}

type TargetFileConfig struct {
	Username string `yaml:"username,omitempty"`
}

type SessionFileConfig struct {
	Cookie string `yaml:"cookie,omitempty"`
}

type MonitorFileConfig struct {
	PollInterval    string `yaml:"pollInterval,omitempty"`
	ResolveAttempts *int   `yaml:"resolveAttempts,omitempty"`
}

type JoinFileConfig struct {
	Delay    string `yaml:"delay,omitempty"`
	Launch   string `yaml:"launch,omitempty"`
	LinkFile string `yaml:"linkFile,omitempty"`
}

type NotifyFileConfig struct {
	WebhookURL string `yaml:"webhookURL,omitempty"`
}

type HTTPFileConfig struct {
	Timeout     string   `yaml:"timeout,omitempty"`
	RateLimit   *float64 `yaml:"rateLimit,omitempty"`
	UsersURL    string   `yaml:"usersURL,omitempty"`
	PresenceURL string   `yaml:"presenceURL,omitempty"`
	AuthURL     string   `yaml:"authURL,omitempty"`
	TeleportURL string   `yaml:"teleportURL,omitempty"`
	UserAgent   string   `yaml:"userAgent,omitempty"`
}

type CacheFileConfig struct {
	IdentityTTL   string `yaml:"identityTTL,omitempty"`
	RedisAddr     string `yaml:"redisAddr,omitempty"`
	RedisPassword string `yaml:"redisPassword,omitempty"`
	RedisDB       *int   `yaml:"redisDB,omitempty"`
}

type OpsFileConfig struct {
	Addr *string `yaml:"addr,omitempty"`
}

type TracingFileConfig struct {
	Enabled  *bool    `yaml:"enabled,omitempty"`
	Exporter string   `yaml:"exporter,omitempty"`
	Endpoint string   `yaml:"endpoint,omitempty"`
	Sampling *float64 `yaml:"sampling,omitempty"`
}

type LogFileConfig struct {
	Level   string `yaml:"level,omitempty"`
	Service string `yaml:"service,omitempty"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() AppConfig {
	return AppConfig{
		PollInterval:     5 * time.Second,
		ResolveAttempts:  1,
		LaunchMode:       LaunchLog,
		RequestTimeout:   10 * time.Second,
		RateLimit:        2,
		UsersURL:         DefaultUsersURL,
		PresenceURL:      DefaultPresenceURL,
		AuthURL:          DefaultAuthURL,
		TeleportURL:      DefaultTeleportURL,
		UserAgent:        "rbxjoin",
		IdentityCacheTTL: 24 * time.Hour,
		OpsAddr:          ":9090",
		TracingExporter:  "grpc",
		TracingEndpoint:  "localhost:4317",
		TracingSampling:  1.0,
		LogLevel:         "info",
		LogService:       "rbxjoin",
	}
}
