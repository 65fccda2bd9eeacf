// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package roblox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrUnavailable   = errors.New("roblox: platform unreachable or transport failure")
	ErrTimeout       = errors.New("roblox: request timed out")
	ErrUnauthorized  = errors.New("roblox: credential rejected")
	ErrRateLimited   = errors.New("roblox: rate limited")
	ErrNotFound      = errors.New("roblox: resource not found")
	ErrUpstreamError = errors.New("roblox: internal error (5xx)")
	ErrBadResponse   = errors.New("roblox: invalid response format or malformed data")
)

// APIError is a rich error type that wraps the sentinel errors with context.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // Nested lower-level error (e.g. net.Error)
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Err}
}

// statusSentinel maps a non-2xx status code to its sentinel.
func statusSentinel(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= 500:
		return ErrUpstreamError
	default:
		return ErrBadResponse
	}
}

func transportError(op string, err error) *APIError {
	sentinel := ErrUnavailable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		sentinel = ErrTimeout
	}
	return &APIError{Sentinel: sentinel, Operation: op, Err: err}
}

// Class buckets an error by what an operator has to do about it.
type Class string

const (
	ClassUnreachable Class = "unreachable" // network, DNS, timeout, 5xx
	ClassCredential  Class = "credential"  // cookie missing, expired or rejected
	ClassProtocol    Class = "protocol"    // response shape changed
	ClassNotFound    Class = "not_found"
	ClassRateLimited Class = "rate_limited"
	ClassUnknown     Class = "unknown"
)

// Classifier lets errors from other packages report their own class.
type Classifier interface {
	ErrorClass() Class
}

// Classify maps err to a Class.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var c Classifier
	if errors.As(err, &c) {
		return c.ErrorClass()
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return ClassCredential
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrTimeout), errors.Is(err, ErrUpstreamError):
		return ClassUnreachable
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrBadResponse):
		return ClassProtocol
	default:
		return ClassUnknown
	}
}
