// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the values exchanged between the resolver, the presence
// monitor, the ticket negotiator and the orchestrator.
package model

import (
	"fmt"
	"strconv"
	"time"
)

// Identity is a resolved account. NumericID never changes for the process lifetime.
type Identity struct {
	Handle    string `json:"handle"`
	NumericID int64  `json:"numericId"`
}

func (i Identity) String() string {
	return fmt.Sprintf("%s (%d)", i.Handle, i.NumericID)
}

// PresenceState classifies what an account is doing right now.
type PresenceState int

const (
	PresenceOffline PresenceState = iota
	PresenceOnline
	PresenceInGame
	PresenceInStudio
)

func (s PresenceState) String() string {
	switch s {
	case PresenceOnline:
		return "online"
	case PresenceInGame:
		return "in_game"
	case PresenceInStudio:
		return "in_studio"
	default:
		return "offline"
	}
}

// MarshalText renders the state name in JSON status output.
func (s PresenceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// GameInstanceRef points at one running server of a place.
type GameInstanceRef struct {
	PlaceID    int64  `json:"placeId"`
	InstanceID string `json:"instanceId"`
}

func (r GameInstanceRef) String() string {
	return strconv.FormatInt(r.PlaceID, 10) + "/" + r.InstanceID
}

// PresenceSnapshot is the result of a single poll. PlaceID and InstanceID are only
// set when State is PresenceInGame.
type PresenceSnapshot struct {
	NumericID    int64         `json:"numericId"`
	State        PresenceState `json:"state"`
	PlaceID      *int64        `json:"placeId,omitempty"`
	InstanceID   *string       `json:"instanceId,omitempty"`
	LastLocation string        `json:"lastLocation,omitempty"`
	ObservedAt   time.Time     `json:"observedAt"`
}

// Instance returns the game instance of an in-game snapshot.
func (s PresenceSnapshot) Instance() (GameInstanceRef, bool) {
	if s.State != PresenceInGame || s.PlaceID == nil || s.InstanceID == nil || *s.InstanceID == "" {
		return GameInstanceRef{}, false
	}
	return GameInstanceRef{PlaceID: *s.PlaceID, InstanceID: *s.InstanceID}, true
}

// SessionCredential is the opaque session cookie of the joining account.
// Its String and GoString forms are redacted so it cannot leak through logs or %v.
type SessionCredential struct {
	value string
}

// NewSessionCredential wraps a raw cookie value.
func NewSessionCredential(raw string) SessionCredential {
	return SessionCredential{value: raw}
}

// Reveal returns the raw value for use on the wire.
func (c SessionCredential) Reveal() string { return c.value }

// IsZero reports whether no credential was supplied.
func (c SessionCredential) IsZero() bool { return c.value == "" }

func (c SessionCredential) String() string {
	if c.value == "" {
		return "<empty>"
	}
	return "<redacted>"
}

// GoString keeps %#v redacted as well.
func (c SessionCredential) GoString() string { return c.String() }

// MarshalText prevents the credential from being serialised by accident.
func (c SessionCredential) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// JoinTicket is a single-use authorisation to join IssuedFor. Callers must not reuse it.
type JoinTicket struct {
	Value     string
	IssuedFor GameInstanceRef
}

// JoinDirective is what the launch and notify collaborators receive.
type JoinDirective struct {
	PlaceID    int64
	InstanceID string
	Ticket     string
}

// NewJoinDirective builds a directive from a freshly negotiated ticket.
func NewJoinDirective(t JoinTicket) JoinDirective {
	return JoinDirective{
		PlaceID:    t.IssuedFor.PlaceID,
		InstanceID: t.IssuedFor.InstanceID,
		Ticket:     t.Value,
	}
}

// DeepLinkScheme is the URI scheme registered by the desktop client.
const DeepLinkScheme = "roblox"

// DeepLink renders scheme://placeId=<id>&gameId=<instanceId>&ticket=<ticket>.
func (d JoinDirective) DeepLink() string {
	return fmt.Sprintf("%s://placeId=%d&gameId=%s&ticket=%s", DeepLinkScheme, d.PlaceID, d.InstanceID, d.Ticket)
}

// Summary describes the directive without the ticket, for logs and notifications.
func (d JoinDirective) Summary() string {
	return fmt.Sprintf("place %d, server %s", d.PlaceID, d.InstanceID)
}
