// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"time"

	"github.com/ManuGH/rbxjoin/internal/model"
)

// State is a node of the session state machine.
type State string

const (
	StateIdle        State = "idle"
	StateResolving   State = "resolving"
	StateMonitoring  State = "monitoring"
	StateNegotiating State = "negotiating"
	StateDispatching State = "dispatching"
	StateAborted     State = "aborted"
)

// Status is a point-in-time view for the ops server. It never carries the
// credential or a ticket.
type Status struct {
	State           State                  `json:"state"`
	Handle          string                 `json:"handle"`
	UserID          int64                  `json:"userId,omitempty"`
	Presence        *model.PresenceState   `json:"presence,omitempty"`
	Instance        *model.GameInstanceRef `json:"instance,omitempty"`
	LastPollAt      *time.Time             `json:"lastPollAt,omitempty"`
	LastPollError   string                 `json:"lastPollError,omitempty"`
	LastJoinError   string                 `json:"lastJoinError,omitempty"`
	JoinsDispatched int                    `json:"joinsDispatched"`
	LastJoin        *model.GameInstanceRef `json:"lastJoin,omitempty"`
	LastJoinAt      *time.Time             `json:"lastJoinAt,omitempty"`
	PollInterval    time.Duration          `json:"pollIntervalNs"`
	AbortReason     string                 `json:"abortReason,omitempty"`
}

// shouldNegotiate reports whether cur starts a new contiguous in-game run compared
// to prev: the target just entered a game or moved to another instance.
func shouldNegotiate(prev *model.PresenceSnapshot, cur model.PresenceSnapshot) bool {
	ref, ok := cur.Instance()
	if !ok {
		return false
	}
	if prev == nil {
		return true
	}
	prevRef, ok := prev.Instance()
	return !ok || prevRef != ref
}
