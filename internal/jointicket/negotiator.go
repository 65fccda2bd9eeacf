// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package jointicket exchanges a session cookie for a single-use join ticket bound to
// one game instance.
//
// The handshake is strictly sequential:
//
//  1. POST the authentication endpoint; the anti-forgery token comes back in the
//     x-csrf-token response header (normally alongside a 403).
//  2. POST the teleport endpoint with placeId and gameId, the token and the cookie,
//     without following redirects.
//  3. Read the ticket query parameter from the redirect Location.
package jointicket

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	xglog "github.com/ManuGH/rbxjoin/internal/log"
	"github.com/ManuGH/rbxjoin/internal/metrics"
	"github.com/ManuGH/rbxjoin/internal/model"
	"github.com/ManuGH/rbxjoin/internal/roblox"
	"github.com/ManuGH/rbxjoin/internal/telemetry"
)

// Negotiator performs the join ticket handshake. It holds no per-negotiation state.
type Negotiator struct {
	client *roblox.Client
	logger zerolog.Logger
}

// NewNegotiator creates a Negotiator using client.
func NewNegotiator(client *roblox.Client) *Negotiator {
	return &Negotiator{
		client: client,
		logger: xglog.WithComponent("jointicket"),
	}
}

// Negotiate obtains a ticket for target. The ticket must be used once at most.
func (n *Negotiator) Negotiate(ctx context.Context, cred model.SessionCredential, target model.GameInstanceRef) (model.JoinTicket, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "jointicket.negotiate")
	span.SetAttributes(telemetry.InstanceAttributes(target.PlaceID, target.InstanceID)...)
	logger := xglog.WithContext(ctx, n.logger).With().
		Int64(xglog.FieldPlaceID, target.PlaceID).
		Str(xglog.FieldInstanceID, target.InstanceID).
		Logger()

	ticket, err := n.negotiate(ctx, logger, cred, target)

	metrics.RecordNegotiation(metricResult(err), time.Since(start))
	if err != nil {
		if jerr, ok := err.(*Error); ok {
			span.SetAttributes(attribute.String(telemetry.StageKey, string(jerr.Stage)))
		}
		telemetry.EndSpan(span, err, string(roblox.Classify(err)))
		return model.JoinTicket{}, err
	}
	telemetry.EndSpan(span, nil, "")
	return model.JoinTicket{Value: ticket, IssuedFor: target}, nil
}

func (n *Negotiator) negotiate(ctx context.Context, logger zerolog.Logger, cred model.SessionCredential, target model.GameInstanceRef) (string, error) {
	token, err := n.csrfToken(ctx, cred)
	if err != nil {
		return "", err
	}
	logger.Debug().Str(xglog.FieldStage, string(StageCSRF)).Msg("anti-forgery token acquired")

	resp, err := n.teleport(ctx, cred, token, target)
	if err != nil {
		return "", err
	}
	logger.Debug().Str(xglog.FieldStage, string(StageTeleport)).Int(xglog.FieldStatus, resp.StatusCode).Msg("teleport redirect received")

	return extractTicket(resp)
}

func (n *Negotiator) csrfToken(ctx context.Context, cred model.SessionCredential) (string, error) {
	resp, err := n.client.Post(ctx, roblox.EndpointAuth, n.client.Endpoints().Auth, nil, nil, cred)
	if err != nil {
		return "", &Error{Stage: StageCSRF, Err: err}
	}
	token := resp.Header.Get(roblox.CSRFHeader)
	if token == "" {
		return "", &Error{Stage: StageCSRF, Kind: ErrMissingCSRFToken, Status: resp.StatusCode}
	}
	return token, nil
}

func (n *Negotiator) teleport(ctx context.Context, cred model.SessionCredential, token string, target model.GameInstanceRef) (*roblox.Response, error) {
	query := url.Values{
		"placeId": {strconv.FormatInt(target.PlaceID, 10)},
		"gameId":  {target.InstanceID},
	}
	header := http.Header{roblox.CSRFHeader: {token}}

	resp, err := n.client.Post(ctx, roblox.EndpointTeleport, n.client.Endpoints().Teleport, query, header, cred)
	if err != nil {
		return nil, &Error{Stage: StageTeleport, Err: err}
	}
	if !resp.IsRedirect() {
		return nil, &Error{
			Stage:    StageTeleport,
			Kind:     ErrUnexpectedResponse,
			Status:   resp.StatusCode,
			Location: resp.Header.Get("Location"),
		}
	}
	return resp, nil
}

// extractTicket reads the ticket parameter of the redirect target. Relative locations
// resolve against the teleport URL.
func extractTicket(resp *roblox.Response) (string, error) {
	location := resp.Header.Get("Location")
	if location == "" {
		return "", &Error{Stage: StageExtract, Kind: ErrRedirectMissing, Status: resp.StatusCode}
	}

	target, err := url.Parse(location)
	if err != nil {
		return "", &Error{Stage: StageExtract, Kind: ErrTicketMissing, Status: resp.StatusCode, Location: location, Err: err}
	}
	if resp.RequestURL != nil {
		target = resp.RequestURL.ResolveReference(target)
	}

	ticket := target.Query().Get("ticket")
	if ticket == "" {
		return "", &Error{Stage: StageExtract, Kind: ErrTicketMissing, Status: resp.StatusCode, Location: location}
	}
	return ticket, nil
}
