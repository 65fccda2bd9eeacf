// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jointicket

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ManuGH/rbxjoin/internal/roblox"
)

// Stage names a step of the handshake.
type Stage string

const (
	StageCSRF     Stage = "csrf"
	StageTeleport Stage = "teleport"
	StageExtract  Stage = "extract"
)

var (
	ErrMissingCSRFToken   = errors.New("anti-forgery token header missing")
	ErrUnexpectedResponse = errors.New("teleport did not answer with a redirect")
	ErrRedirectMissing    = errors.New("redirect without location")
	ErrTicketMissing      = errors.New("redirect location has no ticket")
)

// Error reports which stage of a negotiation failed. Kind is one of the sentinels
// above, or nil when the request itself failed (see Err).
type Error struct {
	Stage    Stage
	Kind     error
	Status   int
	Location string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "join ticket %s stage", e.Stage)
	if e.Kind != nil {
		fmt.Fprintf(&b, ": %v", e.Kind)
	}
	if e.Status > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Location != "" {
		fmt.Fprintf(&b, " location=%q", e.Location)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ErrorClass implements roblox.Classifier.
func (e *Error) ErrorClass() roblox.Class {
	switch {
	case e.Kind == nil:
		if c := roblox.Classify(e.Err); c != "" {
			return c
		}
		return roblox.ClassUnknown
	case errors.Is(e.Kind, ErrMissingCSRFToken):
		// The auth endpoint only withholds the token from sessions it does not accept.
		return roblox.ClassCredential
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return roblox.ClassCredential
	case e.Status == http.StatusTooManyRequests:
		return roblox.ClassRateLimited
	case e.Status >= 500:
		return roblox.ClassUnreachable
	default:
		return roblox.ClassProtocol
	}
}

// metricResult is the negotiation outcome label for err.
func metricResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrMissingCSRFToken):
		return "missing_csrf"
	case errors.Is(err, ErrUnexpectedResponse):
		return "unexpected_response"
	case errors.Is(err, ErrRedirectMissing):
		return "redirect_missing"
	case errors.Is(err, ErrTicketMissing):
		return "ticket_missing"
	default:
		return "error"
	}
}

// StageName returns the failed stage for log fields.
func (e *Error) StageName() string { return string(e.Stage) }
