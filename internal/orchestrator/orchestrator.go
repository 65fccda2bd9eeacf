// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package orchestrator drives a session: resolve the target once, poll its presence
// and negotiate a join ticket every time it enters a new game instance.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/rbxjoin/internal/identity"
	xglog "github.com/ManuGH/rbxjoin/internal/log"
	"github.com/ManuGH/rbxjoin/internal/metrics"
	"github.com/ManuGH/rbxjoin/internal/model"
	"github.com/ManuGH/rbxjoin/internal/roblox"
	"github.com/ManuGH/rbxjoin/internal/telemetry"
)

var (
	// ErrAborted wraps the cause of an unrecoverable failure.
	ErrAborted = errors.New("orchestrator: aborted")
	// ErrNotInGame is returned by Once when the target is not in a game.
	ErrNotInGame = errors.New("orchestrator: target is not in a game")
)

// Resolver maps a handle to an Identity.
type Resolver interface {
	Resolve(ctx context.Context, handle string) (model.Identity, error)
}

// PresenceSource performs a single presence poll.
type PresenceSource interface {
	Poll(ctx context.Context, userID int64) (model.PresenceSnapshot, error)
}

// Negotiator obtains a join ticket for a game instance.
type Negotiator interface {
	Negotiate(ctx context.Context, cred model.SessionCredential, target model.GameInstanceRef) (model.JoinTicket, error)
}

// Launcher consumes a deep link.
type Launcher interface {
	Launch(ctx context.Context, uri string) error
}

// Notifier posts a human readable message.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Resolver   Resolver
	Presence   PresenceSource
	Negotiator Negotiator
	Launcher   Launcher
	Notifier   Notifier
}

// Options configure an Orchestrator.
type Options struct {
	Handle          string
	Credential      model.SessionCredential
	PollInterval    time.Duration
	JoinDelay       time.Duration
	ResolveAttempts int
	ResolveBackoff  time.Duration
}

// Orchestrator is the session state machine. Run and Once must not be called
// concurrently; State and Status are safe from any goroutine.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger

	// prev is the last successful snapshot. Only the loop goroutine touches it.
	prev *model.PresenceSnapshot

	// mu guards state, status and the reconfigurable fields of opts.
	mu     sync.RWMutex
	state  State
	status Status
}

// New creates an Orchestrator in the Idle state.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.ResolveAttempts <= 0 {
		opts.ResolveAttempts = 1
	}
	if opts.ResolveBackoff <= 0 {
		opts.ResolveBackoff = 2 * time.Second
	}
	o := &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: xglog.WithComponent("orchestrator").With().Str(xglog.FieldHandle, opts.Handle).Logger(),
		state:  StateIdle,
		status: Status{State: StateIdle, Handle: opts.Handle, PollInterval: opts.PollInterval},
	}
	metrics.SetOrchestratorState(string(StateIdle))
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Status returns a copy of the current status.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	old := o.state
	o.state = s
	o.status.State = s
	o.mu.Unlock()

	if old == s {
		return
	}
	metrics.SetOrchestratorState(string(s))
	o.logger.Debug().
		Str(xglog.FieldOldState, string(old)).
		Str(xglog.FieldNewState, string(s)).
		Msg("state transition")
}

// Reconfigure swaps the credential and join delay used by later joins. A negotiation
// already in flight keeps the old credential.
func (o *Orchestrator) Reconfigure(cred model.SessionCredential, joinDelay time.Duration) {
	o.mu.Lock()
	o.opts.Credential = cred
	o.opts.JoinDelay = joinDelay
	o.mu.Unlock()
	o.logger.Info().Dur("join_delay", joinDelay).Msg("session settings updated")
}

func (o *Orchestrator) credential() model.SessionCredential {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.opts.Credential
}

func (o *Orchestrator) joinDelay() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.opts.JoinDelay
}

func (o *Orchestrator) updateStatus(fn func(*Status)) {
	o.mu.Lock()
	fn(&o.status)
	o.mu.Unlock()
}

// Run resolves the target and monitors it until ctx is done. It returns nil on
// cancellation and an error wrapping ErrAborted when the target cannot be resolved.
func (o *Orchestrator) Run(ctx context.Context) error {
	id, err := o.resolve(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return o.abort(err)
	}

	o.setState(StateMonitoring)
	o.logger.Info().
		Int64(xglog.FieldUserID, id.NumericID).
		Dur("poll_interval", o.opts.PollInterval).
		Msg("monitoring presence")

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	o.tick(ctx, id)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("monitoring stopped")
			return nil
		case <-ticker.C:
			// Ticks run inline; a slow tick drops the ticks it overlapped.
			o.tick(ctx, id)
		}
	}
}

// Once resolves the target, polls once and joins its current game.
func (o *Orchestrator) Once(ctx context.Context) (model.JoinDirective, error) {
	id, err := o.resolve(ctx)
	if err != nil {
		return model.JoinDirective{}, o.abort(err)
	}

	o.setState(StateMonitoring)
	snap, err := o.poll(ctx, id)
	if err != nil {
		return model.JoinDirective{}, err
	}
	ref, ok := snap.Instance()
	if !ok {
		return model.JoinDirective{}, fmt.Errorf("%w: %s is %s", ErrNotInGame, id.Handle, snap.State)
	}
	o.prev = &snap

	return o.join(ctx, ref)
}

func (o *Orchestrator) abort(cause error) error {
	o.setState(StateAborted)
	o.updateStatus(func(s *Status) { s.AbortReason = cause.Error() })
	o.logger.Error().Err(cause).
		Str(xglog.FieldErrorKind, string(roblox.Classify(cause))).
		Msg("run aborted")
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}

// resolve calls the resolver up to ResolveAttempts times. Handles that are empty or
// unknown to the platform are not retried.
func (o *Orchestrator) resolve(ctx context.Context) (model.Identity, error) {
	o.setState(StateResolving)

	var lastErr error
	for attempt := 1; attempt <= o.opts.ResolveAttempts; attempt++ {
		id, err := o.deps.Resolver.Resolve(ctx, o.opts.Handle)
		if err == nil {
			o.updateStatus(func(s *Status) {
				s.Handle = id.Handle
				s.UserID = id.NumericID
			})
			return id, nil
		}
		lastErr = err
		if errors.Is(err, identity.ErrEmptyHandle) || errors.Is(err, identity.ErrUnknownHandle) {
			break
		}
		if attempt == o.opts.ResolveAttempts {
			break
		}

		o.logger.Warn().Err(err).Int(xglog.FieldAttempt, attempt).Msg("resolution failed, retrying")
		select {
		case <-ctx.Done():
			return model.Identity{}, ctx.Err()
		case <-time.After(o.opts.ResolveBackoff):
		}
	}
	return model.Identity{}, lastErr
}

func (o *Orchestrator) poll(ctx context.Context, id model.Identity) (model.PresenceSnapshot, error) {
	snap, err := o.deps.Presence.Poll(ctx, id.NumericID)
	if err != nil {
		o.updateStatus(func(s *Status) { s.LastPollError = err.Error() })
		return model.PresenceSnapshot{}, err
	}

	o.updateStatus(func(s *Status) {
		state := snap.State
		s.Presence = &state
		at := snap.ObservedAt
		if at.IsZero() {
			at = time.Now()
		}
		s.LastPollAt = &at
		s.LastPollError = ""
		s.Instance = nil
		if ref, ok := snap.Instance(); ok {
			s.Instance = &ref
		}
	})
	return snap, nil
}

// tick is one Monitoring step. Errors never leave it.
func (o *Orchestrator) tick(ctx context.Context, id model.Identity) {
	snap, err := o.poll(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.logger.Warn().Err(err).
			Str(xglog.FieldErrorKind, string(roblox.Classify(err))).
			Msg("presence poll failed, retrying next tick")
		return
	}

	prev := o.prev
	o.prev = &snap
	if prev == nil || prev.State != snap.State {
		ev := o.logger.Info().Str(xglog.FieldEvent, "presence.changed").Str(xglog.FieldState, snap.State.String())
		if ref, ok := snap.Instance(); ok {
			ev = ev.Int64(xglog.FieldPlaceID, ref.PlaceID).Str(xglog.FieldInstanceID, ref.InstanceID)
		}
		ev.Msg("presence changed")
	}

	if !shouldNegotiate(prev, snap) {
		return
	}
	ref, _ := snap.Instance()
	if _, err := o.join(ctx, ref); err != nil && retryable(err) {
		// Forget the instance so the next tick tries again while the target stays.
		o.prev = nil
	}
}

// retryable reports whether a failed negotiation may succeed on the next tick.
func retryable(err error) bool {
	switch roblox.Classify(err) {
	case roblox.ClassUnreachable, roblox.ClassRateLimited:
		return true
	default:
		return false
	}
}

// join negotiates a ticket for ref and dispatches it. The state is Monitoring again
// when it returns.
func (o *Orchestrator) join(ctx context.Context, ref model.GameInstanceRef) (model.JoinDirective, error) {
	ctx = xglog.ContextWithCorrelationID(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.join")
	span.SetAttributes(telemetry.InstanceAttributes(ref.PlaceID, ref.InstanceID)...)
	logger := xglog.WithContext(ctx, o.logger).With().
		Int64(xglog.FieldPlaceID, ref.PlaceID).
		Str(xglog.FieldInstanceID, ref.InstanceID).
		Logger()
	defer o.setState(StateMonitoring)

	o.setState(StateNegotiating)
	logger.Info().Msg("target in game, negotiating join ticket")

	ticket, err := o.deps.Negotiator.Negotiate(ctx, o.credential(), ref)
	if err != nil {
		o.updateStatus(func(s *Status) { s.LastJoinError = err.Error() })
		ev := logger.Warn().Err(err).Str(xglog.FieldErrorKind, string(roblox.Classify(err)))
		var stager interface{ StageName() string }
		if errors.As(err, &stager) {
			ev = ev.Str(xglog.FieldStage, stager.StageName())
		}
		ev.Msg("join ticket negotiation failed")
		telemetry.EndSpan(span, err, string(roblox.Classify(err)))
		return model.JoinDirective{}, err
	}

	o.setState(StateDispatching)
	directive := model.NewJoinDirective(ticket)
	if err := o.dispatch(ctx, logger, directive); err != nil {
		if ctx.Err() != nil {
			telemetry.EndSpan(span, err, "cancelled")
			return model.JoinDirective{}, ctx.Err()
		}
		// A failed launch is not fatal, but it is not a dispatched join either.
		o.updateStatus(func(s *Status) { s.LastJoinError = err.Error() })
		telemetry.EndSpan(span, err, "launch")
		return directive, nil
	}
	now := time.Now()
	o.updateStatus(func(s *Status) {
		s.JoinsDispatched++
		s.LastJoin = &ref
		s.LastJoinAt = &now
		s.LastJoinError = ""
	})
	telemetry.EndSpan(span, nil, "")
	return directive, nil
}

// dispatch notifies, waits JoinDelay and launches. A notification failure is only
// logged; the returned error is set when the launch did not happen.
func (o *Orchestrator) dispatch(ctx context.Context, logger zerolog.Logger, d model.JoinDirective) error {
	if o.deps.Notifier != nil {
		text := fmt.Sprintf("%s is in a game (%s), joining.", o.opts.Handle, d.Summary())
		if err := o.deps.Notifier.Notify(ctx, text); err != nil {
			metrics.RecordDispatch("notify", "error")
			logger.Warn().Err(err).Msg("notification failed")
		} else {
			metrics.RecordDispatch("notify", "ok")
		}
	}

	if delay := o.joinDelay(); delay > 0 {
		logger.Info().Dur("delay", delay).Msg("waiting before launch")
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	if o.deps.Launcher == nil {
		return nil
	}
	if err := o.deps.Launcher.Launch(ctx, d.DeepLink()); err != nil {
		metrics.RecordDispatch("launch", "error")
		logger.Warn().Err(err).Msg("launch failed")
		return fmt.Errorf("launch: %w", err)
	}
	metrics.RecordDispatch("launch", "ok")
	logger.Info().Str("directive", d.Summary()).Msg("join directive dispatched")
	return nil
}
