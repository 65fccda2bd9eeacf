// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package presence queries and classifies the live status of an account.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	xglog "github.com/ManuGH/rbxjoin/internal/log"
	"github.com/ManuGH/rbxjoin/internal/metrics"
	"github.com/ManuGH/rbxjoin/internal/model"
	"github.com/ManuGH/rbxjoin/internal/resilience"
	"github.com/ManuGH/rbxjoin/internal/roblox"
	"github.com/ManuGH/rbxjoin/internal/telemetry"
)

// Platform presence type codes.
const (
	typeOffline   = 0
	typeOnline    = 1
	typeInGame    = 2
	typeInStudio  = 3
	typeInvisible = 4
)

// QueryError is a failed poll. It is always transient for the caller.
type QueryError struct {
	UserID int64
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("presence query for user %d: %v", e.UserID, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Monitor polls the presence endpoint. It keeps no state between calls apart from
// the circuit breaker guarding the endpoint.
type Monitor struct {
	client  *roblox.Client
	breaker *resilience.CircuitBreaker
	now     func() time.Time
	logger  zerolog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(m *Monitor) { m.breaker = cb }
}

// WithClock sets the source of ObservedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a Monitor. By default five consecutive unreachable polls open
// the breaker for 30 seconds.
func NewMonitor(client *roblox.Client, opts ...Option) *Monitor {
	m := &Monitor{
		client: client,
		now:    time.Now,
		logger: xglog.WithComponent("presence"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.breaker == nil {
		m.breaker = resilience.NewCircuitBreaker("presence", 5, 30*time.Second,
			resilience.WithFailurePredicate(IsUnreachable))
	}
	return m
}

// IsUnreachable reports whether err means the endpoint could not serve the request.
func IsUnreachable(err error) bool {
	switch roblox.Classify(err) {
	case roblox.ClassUnreachable, roblox.ClassRateLimited:
		return true
	default:
		return false
	}
}

type presenceRequest struct {
	UserIDs []int64 `json:"userIds"`
}

type presenceRecord struct {
	UserPresenceType int     `json:"userPresenceType"`
	LastLocation     string  `json:"lastLocation"`
	PlaceID          *int64  `json:"placeId"`
	RootPlaceID      *int64  `json:"rootPlaceId"`
	GameID           *string `json:"gameId"`
	UniverseID       *int64  `json:"universeId"`
	UserID           int64   `json:"userId"`
}

type presenceResponse struct {
	UserPresences []presenceRecord `json:"userPresences"`
}

// Poll performs one presence query for userID.
func (m *Monitor) Poll(ctx context.Context, userID int64) (model.PresenceSnapshot, error) {
	ctx, span := telemetry.StartSpan(ctx, "presence.poll")
	span.SetAttributes(attribute.Int64(telemetry.UserIDKey, userID))
	logger := xglog.WithContext(ctx, m.logger).With().Int64(xglog.FieldUserID, userID).Logger()

	body, err := resilience.Call(m.breaker, func() (presenceResponse, error) {
		var out presenceResponse
		err := m.client.PostJSON(ctx, roblox.EndpointPresence, m.client.Endpoints().Presence,
			presenceRequest{UserIDs: []int64{userID}}, &out)
		return out, err
	})
	if err == nil {
		err = checkRecords(body, userID)
	}
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			logger.Debug().Msg("presence breaker open, skipping poll")
			err = &roblox.APIError{Sentinel: roblox.ErrUnavailable, Operation: string(roblox.EndpointPresence), Err: err}
		}
		qerr := &QueryError{UserID: userID, Err: err}
		metrics.RecordPresencePoll("error")
		telemetry.EndSpan(span, qerr, string(roblox.Classify(err)))
		return model.PresenceSnapshot{}, qerr
	}

	snap, malformed := classify(body.UserPresences[0], m.now())
	snap.NumericID = userID
	if malformed != "" {
		logger.Warn().
			Int("presence_type", body.UserPresences[0].UserPresenceType).
			Str("reason", malformed).
			Msg("presence record downgraded to offline")
		metrics.RecordPresencePoll("malformed")
	} else {
		metrics.RecordPresencePoll("ok")
	}
	metrics.SetPresenceState(snap.State.String())

	if ref, ok := snap.Instance(); ok {
		span.SetAttributes(telemetry.InstanceAttributes(ref.PlaceID, ref.InstanceID)...)
	}
	span.SetAttributes(attribute.String(telemetry.PresenceKey, snap.State.String()))
	telemetry.EndSpan(span, nil, "")
	return snap, nil
}

// checkRecords requires exactly the record that was asked for.
func checkRecords(body presenceResponse, userID int64) error {
	if len(body.UserPresences) == 0 {
		return &roblox.APIError{Sentinel: roblox.ErrBadResponse, Operation: string(roblox.EndpointPresence), Body: "no presence records"}
	}
	rec := body.UserPresences[0]
	if rec.UserID != 0 && rec.UserID != userID {
		return &roblox.APIError{
			Sentinel:  roblox.ErrBadResponse,
			Operation: string(roblox.EndpointPresence),
			Body:      fmt.Sprintf("record for user %d, expected %d", rec.UserID, userID),
		}
	}
	return nil
}

// classify turns a record into a snapshot. A non-empty reason means the record was
// downgraded to Offline.
func classify(rec presenceRecord, now time.Time) (model.PresenceSnapshot, string) {
	snap := model.PresenceSnapshot{
		State:        model.PresenceOffline,
		LastLocation: rec.LastLocation,
		ObservedAt:   now,
	}

	switch rec.UserPresenceType {
	case typeOffline, typeInvisible:
		return snap, ""
	case typeOnline:
		snap.State = model.PresenceOnline
		return snap, ""
	case typeInStudio:
		snap.State = model.PresenceInStudio
		return snap, ""
	case typeInGame:
		if rec.PlaceID == nil || *rec.PlaceID <= 0 {
			return snap, "in game without place id"
		}
		if rec.GameID == nil || *rec.GameID == "" {
			return snap, "in game without instance id"
		}
		placeID, gameID := *rec.PlaceID, *rec.GameID
		snap.State = model.PresenceInGame
		snap.PlaceID = &placeID
		snap.InstanceID = &gameID
		return snap, ""
	default:
		return snap, fmt.Sprintf("unknown presence type %d", rec.UserPresenceType)
	}
}
