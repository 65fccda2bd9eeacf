// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package identity maps account handles to numeric ids.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/rbxjoin/internal/cache"
	xglog "github.com/ManuGH/rbxjoin/internal/log"
	"github.com/ManuGH/rbxjoin/internal/metrics"
	"github.com/ManuGH/rbxjoin/internal/model"
	"github.com/ManuGH/rbxjoin/internal/roblox"
)

var (
	ErrEmptyHandle   = errors.New("identity: handle is empty")
	ErrUnknownHandle = errors.New("identity: unknown handle")
)

// ResolutionError is returned for every failed lookup. It is fatal to a run.
type ResolutionError struct {
	Handle string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve handle %q: %v", e.Handle, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

const cacheKeyPrefix = "identity:"

// Resolver looks up numeric ids through the users endpoint. Successful lookups are
// cached for ttl; a zero ttl disables caching.
type Resolver struct {
	client *roblox.Client
	cache  cache.Cache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewResolver creates a Resolver. A nil cache disables caching.
func NewResolver(client *roblox.Client, c cache.Cache, ttl time.Duration) *Resolver {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	return &Resolver{
		client: client,
		cache:  c,
		ttl:    ttl,
		logger: xglog.WithComponent("identity"),
	}
}

type usersResponse struct {
	ID           int64  `json:"Id"`
	Username     string `json:"Username"`
	Success      *bool  `json:"success"`
	ErrorMessage string `json:"errorMessage"`
}

// Resolve returns the Identity for handle. It never retries.
func (r *Resolver) Resolve(ctx context.Context, handle string) (model.Identity, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return model.Identity{}, &ResolutionError{Handle: handle, Err: ErrEmptyHandle}
	}
	logger := xglog.WithContext(ctx, r.logger).With().Str(xglog.FieldHandle, handle).Logger()

	key := cacheKey(handle)
	if raw, ok := r.cache.Get(ctx, key); ok {
		if id, err := strconv.ParseInt(string(raw), 10, 64); err == nil && id > 0 {
			metrics.RecordIdentityResolution("ok", "cache")
			logger.Debug().Int64(xglog.FieldUserID, id).Msg("identity served from cache")
			return model.Identity{Handle: handle, NumericID: id}, nil
		}
		r.cache.Delete(ctx, key)
	}

	var body usersResponse
	err := r.client.GetJSON(ctx, roblox.EndpointUsers, r.client.Endpoints().Users,
		url.Values{"username": {handle}}, &body)
	if err != nil {
		if errors.Is(err, roblox.ErrNotFound) {
			err = fmt.Errorf("%w: %w", ErrUnknownHandle, err)
		}
		metrics.RecordIdentityResolution("error", "upstream")
		logger.Warn().Err(err).Str(xglog.FieldErrorKind, string(roblox.Classify(err))).Msg("identity lookup failed")
		return model.Identity{}, &ResolutionError{Handle: handle, Err: err}
	}

	if (body.Success != nil && !*body.Success) || body.ErrorMessage != "" || body.ID <= 0 {
		msg := body.ErrorMessage
		if msg == "" {
			msg = "no id in response"
		}
		metrics.RecordIdentityResolution("error", "upstream")
		logger.Warn().Str("reason", msg).Msg("handle not known to the platform")
		return model.Identity{}, &ResolutionError{Handle: handle, Err: fmt.Errorf("%w: %s", ErrUnknownHandle, msg)}
	}

	if r.ttl > 0 {
		r.cache.Set(ctx, key, []byte(strconv.FormatInt(body.ID, 10)), r.ttl)
	}
	metrics.RecordIdentityResolution("ok", "upstream")
	logger.Info().Int64(xglog.FieldUserID, body.ID).Msg("identity resolved")
	return model.Identity{Handle: handle, NumericID: body.ID}, nil
}

// Invalidate drops the cached id for handle.
func (r *Resolver) Invalidate(ctx context.Context, handle string) {
	r.cache.Delete(ctx, cacheKey(strings.TrimSpace(handle)))
}

func cacheKey(handle string) string {
	return cacheKeyPrefix + strings.ToLower(handle)
}
