// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedacted(t *testing.T) {
	cfg := validConfig()
	cfg.SessionCookie = "_|WARNING:-DO-NOT-SHARE-THIS.--|_abcdefgh"
	cfg.RedisPassword = "hunter2"
	cfg.WebhookURL = "https://discord.com/api/webhooks/1/secret-token"

	out := Redacted(cfg)
	assert.Equal(t, "***efgh", out.SessionCookie)
	assert.Equal(t, "***", out.RedisPassword)
	assert.Equal(t, "https://discord.com/***", out.WebhookURL)
	assert.Equal(t, cfg.TargetUsername, out.TargetUsername)
	assert.Equal(t, "hunter2", cfg.RedisPassword, "input is not modified")
}

func TestRedacted_EmptySecretsStayEmpty(t *testing.T) {
	out := Redacted(validConfig())
	assert.Empty(t, out.RedisPassword)
	assert.Empty(t, out.WebhookURL)
}

func TestIsSensitiveKey(t *testing.T) {
	assert.True(t, isSensitiveKey(EnvCookie))
	assert.True(t, isSensitiveKey(EnvRedisPassword))
	assert.True(t, isSensitiveKey(EnvWebhookURL))
	assert.False(t, isSensitiveKey(EnvTargetUsername))
}

func TestMaskCookie(t *testing.T) {
	assert.Equal(t, "", MaskCookie(""))
	assert.Equal(t, "***", MaskCookie("short"))
	assert.Equal(t, "***wxyz", MaskCookie("abcdefghijklmnopqrstuvwxyz"))
}
