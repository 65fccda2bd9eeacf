// SPDX-License-Identifier: MIT

package config

import (
	platformnet "github.com/ManuGH/rbxjoin/internal/platform/net"
)

const masked = "***"

// isSensitiveKey reports whether the value behind an environment key must never
// reach the log.
func isSensitiveKey(key string) bool {
	switch key {
	case EnvCookie, EnvRedisPassword, EnvWebhookURL:
		return true
	}
	return false
}

// Redacted returns a copy of cfg that is safe to print. The cookie keeps its
// last four characters, the Redis password is blanked and the webhook URL loses
// its path, which is the webhook token.
func Redacted(cfg AppConfig) AppConfig {
	cfg.SessionCookie = MaskCookie(cfg.SessionCookie)
	if cfg.RedisPassword != "" {
		cfg.RedisPassword = masked
	}
	if cfg.WebhookURL != "" {
		cfg.WebhookURL = platformnet.SanitizeURL(cfg.WebhookURL)
	}
	return cfg
}

// MaskCookie keeps only the last four characters of a session cookie.
func MaskCookie(cookie string) string {
	if cookie == "" {
		return ""
	}
	if len(cookie) <= 8 {
		return masked
	}
	return masked + cookie[len(cookie)-4:]
}
