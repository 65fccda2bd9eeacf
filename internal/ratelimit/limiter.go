// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"sync"

	"github.com/ManuGH/rbxjoin/internal/metrics"
	"golang.org/x/time/rate"
)

// Config holds outbound rate limiting configuration.
type Config struct {
	// Rate is the sustained requests per second allowed per endpoint group.
	Rate rate.Limit
	// Burst is the number of requests allowed back to back.
	Burst int
	// Overrides replaces Rate for specific endpoint groups.
	Overrides map[string]rate.Limit
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Rate:  2,
		Burst: 4,
	}
}

// Limiter paces outbound requests per endpoint group so a tight poll interval or a
// misbehaving loop cannot hammer the platform API.
type Limiter struct {
	config Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a new rate limiter with the given config
func New(config Config) *Limiter {
	if config.Burst <= 0 {
		config.Burst = 1
	}
	return &Limiter{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a request to the endpoint group may proceed or ctx is done.
// A nil Limiter never blocks.
func (l *Limiter) Wait(ctx context.Context, endpoint string) error {
	if l == nil {
		return nil
	}
	lim := l.get(endpoint)
	if lim.Allow() {
		return nil
	}
	metrics.RecordRateLimitWait(endpoint)
	return lim.Wait(ctx)
}

func (l *Limiter) get(endpoint string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[endpoint]
	if !ok {
		r := l.config.Rate
		if override, exists := l.config.Overrides[endpoint]; exists {
			r = override
		}
		if r <= 0 {
			r = rate.Inf
		}
		lim = rate.NewLimiter(r, l.config.Burst)
		l.limiters[endpoint] = lim
	}
	return lim
}
