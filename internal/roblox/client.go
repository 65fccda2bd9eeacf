// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package roblox is the thin HTTP layer shared by the identity resolver, the presence
// monitor and the join ticket negotiator. It owns endpoints, the session cookie,
// pacing, tracing and the error taxonomy; it does not interpret responses.
package roblox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ManuGH/rbxjoin/internal/metrics"
	"github.com/ManuGH/rbxjoin/internal/model"
	"github.com/ManuGH/rbxjoin/internal/platform/httpx"
	"github.com/ManuGH/rbxjoin/internal/ratelimit"
	"github.com/ManuGH/rbxjoin/internal/telemetry"
)

// Endpoint names an upstream endpoint group for pacing, metrics and spans.
type Endpoint string

const (
	EndpointUsers    Endpoint = "users"
	EndpointPresence Endpoint = "presence"
	EndpointAuth     Endpoint = "auth"
	EndpointTeleport Endpoint = "teleport"
)

// CookieName is the session cookie the platform authenticates with.
const CookieName = ".ROBLOSECURITY"

// CSRFHeader carries the anti-forgery token in both directions.
const CSRFHeader = "X-CSRF-TOKEN"

const maxBodyBytes = 1 << 20

// Endpoints holds the absolute URL of every upstream endpoint.
type Endpoints struct {
	Users    string
	Presence string
	Auth     string
	Teleport string
}

// DefaultEndpoints returns the production endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Users:    "https://api.roblox.com/users/get-by-username",
		Presence: "https://presence.roblox.com/v1/presence/users",
		Auth:     "https://auth.roblox.com/v1/authentication-ticket",
		Teleport: "https://www.roblox.com/games/teleport",
	}
}

// Options configures a Client.
type Options struct {
	Endpoints Endpoints
	Timeout   time.Duration
	UserAgent string
	Limiter   *ratelimit.Limiter
	// Traced wraps the transports with otelhttp.
	Traced bool
}

// Client performs requests against the platform API.
type Client struct {
	endpoints  Endpoints
	http       *http.Client
	noRedirect *http.Client
	userAgent  string
	limiter    *ratelimit.Limiter
}

// New builds a Client. Zero-valued endpoint fields fall back to the defaults.
func New(opts Options) *Client {
	def := DefaultEndpoints()
	ep := opts.Endpoints
	if ep.Users == "" {
		ep.Users = def.Users
	}
	if ep.Presence == "" {
		ep.Presence = def.Presence
	}
	if ep.Auth == "" {
		ep.Auth = def.Auth
	}
	if ep.Teleport == "" {
		ep.Teleport = def.Teleport
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "rbxjoin"
	}
	return &Client{
		endpoints:  ep,
		http:       httpx.New(httpx.Options{Timeout: opts.Timeout, Traced: opts.Traced}),
		noRedirect: httpx.New(httpx.Options{Timeout: opts.Timeout, Traced: opts.Traced, NoRedirect: true}),
		userAgent:  ua,
		limiter:    opts.Limiter,
	}
}

// Endpoints returns the configured endpoint URLs.
func (c *Client) Endpoints() Endpoints { return c.endpoints }

// Request describes a single call.
type Request struct {
	Endpoint   Endpoint
	Method     string
	URL        string
	Query      url.Values
	JSONBody   any
	Header     http.Header
	Credential model.SessionCredential
	// NoRedirect returns 3xx responses to the caller instead of following them.
	NoRedirect bool
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// RequestURL is the final request URL, used to resolve relative Location headers.
	RequestURL *url.URL
}

// IsRedirect reports whether the response is a 3xx.
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// Do sends r and returns the response whatever its status. Only transport level
// failures (DNS, connect, timeout, body read) produce an error.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	op := string(r.Endpoint)
	if r.Method == "" {
		r.Method = http.MethodGet
	}

	if err := c.limiter.Wait(ctx, op); err != nil {
		return nil, transportError(op, err)
	}

	ctx, span := telemetry.StartSpan(ctx, "roblox."+op)
	start := time.Now()

	resp, err := c.send(ctx, r)
	result := "ok"
	status := 0
	switch {
	case err != nil:
		result = "transport_error"
		if apiErr, ok := err.(*APIError); ok && apiErr.Sentinel == ErrTimeout {
			result = "timeout"
		}
	default:
		status = resp.StatusCode
		if status >= 400 {
			result = "http_error"
		}
	}
	metrics.ObserveUpstreamRequest(op, result, time.Since(start))
	span.SetAttributes(telemetry.UpstreamAttributes(op, status)...)
	telemetry.EndSpan(span, err, string(Classify(err)))

	return resp, err
}

func (c *Client) send(ctx context.Context, r Request) (*Response, error) {
	op := string(r.Endpoint)

	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, &APIError{Sentinel: ErrBadResponse, Operation: op, Err: fmt.Errorf("parse url: %w", err)}
	}
	if len(r.Query) > 0 {
		q := u.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if r.JSONBody != nil {
		buf, err := json.Marshal(r.JSONBody)
		if err != nil {
			return nil, &APIError{Sentinel: ErrBadResponse, Operation: op, Err: fmt.Errorf("encode body: %w", err)}
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), body)
	if err != nil {
		return nil, &APIError{Sentinel: ErrUnavailable, Operation: op, Err: err}
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if r.JSONBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !r.Credential.IsZero() {
		req.Header.Add("Cookie", CookieName+"="+r.Credential.Reveal())
	}

	client := c.http
	if r.NoRedirect {
		client = c.noRedirect
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, transportError(op, fmt.Errorf("read body: %w", err))
	}

	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       data,
		RequestURL: res.Request.URL,
	}, nil
}

// DoJSON sends r, requires a 2xx status and decodes the body into out.
func (c *Client) DoJSON(ctx context.Context, r Request, out any) error {
	resp, err := c.Do(ctx, r)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Sentinel:  statusSentinel(resp.StatusCode),
			Operation: string(r.Endpoint),
			Status:    resp.StatusCode,
			Body:      snippet(resp.Body),
		}
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &APIError{
			Sentinel:  ErrBadResponse,
			Operation: string(r.Endpoint),
			Status:    resp.StatusCode,
			Body:      snippet(resp.Body),
			Err:       err,
		}
	}
	return nil
}

// snippet trims a body for error messages.
func snippet(b []byte) string {
	const max = 256
	b = bytes.TrimSpace(b)
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// GetJSON issues a GET and decodes a 2xx JSON body into out.
func (c *Client) GetJSON(ctx context.Context, ep Endpoint, rawURL string, query url.Values, out any) error {
	return c.DoJSON(ctx, Request{Endpoint: ep, Method: http.MethodGet, URL: rawURL, Query: query}, out)
}

// PostJSON posts body as JSON and decodes a 2xx JSON body into out.
func (c *Client) PostJSON(ctx context.Context, ep Endpoint, rawURL string, body, out any) error {
	return c.DoJSON(ctx, Request{Endpoint: ep, Method: http.MethodPost, URL: rawURL, JSONBody: body}, out)
}

// Post sends an authenticated POST without following redirects and returns the raw
// response so headers and Location can be inspected.
func (c *Client) Post(ctx context.Context, ep Endpoint, rawURL string, query url.Values, header http.Header, cred model.SessionCredential) (*Response, error) {
	return c.Do(ctx, Request{
		Endpoint:   ep,
		Method:     http.MethodPost,
		URL:        rawURL,
		Query:      query,
		Header:     header,
		Credential: cred,
		NoRedirect: true,
	})
}
