// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package net validates and sanitizes the HTTP URLs rbxjoin talks to.
package net

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// NormalizeHost validates a bare host and returns its lowercase ASCII form.
// Internationalized names are converted with IDNA lookup rules.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if strings.ContainsAny(host, "/@") || strings.Contains(host, "://") {
		return "", fmt.Errorf("host must be a bare name: %s", raw)
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if strings.Contains(host, "%") {
		return "", fmt.Errorf("host must not include zone: %s", raw)
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	if strings.Contains(host, ":") {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	host = strings.TrimSuffix(host, ".")
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

// ParseHTTPURL accepts absolute http(s) URLs without embedded credentials or
// fragments and returns them with a normalized host.
func ParseHTTPURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("url is empty")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", SanitizeURL(trimmed), err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("url %q must use http or https", SanitizeURL(trimmed))
	}
	if u.User != nil {
		return nil, fmt.Errorf("url %q must not embed credentials", SanitizeURL(trimmed))
	}
	if u.Fragment != "" {
		return nil, fmt.Errorf("url %q must not have a fragment", SanitizeURL(trimmed))
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", SanitizeURL(trimmed))
	}

	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return nil, err
	}
	u.Scheme = scheme
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}
	return u, nil
}

// SanitizeURL drops user info, query and path for safe logging. Webhook paths
// carry tokens, so only scheme and host survive.
func SanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "invalid-url-redacted"
	}
	out := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		out += "/***"
	}
	return out
}
