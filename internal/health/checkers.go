// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"time"
)

// MonitorView is what MonitorChecker needs to know about the session loop.
type MonitorView struct {
	Resolved      bool
	Aborted       bool
	LastPollAt    time.Time
	LastPollError string
	PollInterval  time.Duration
}

// MonitorChecker is healthy once the target is resolved and the last successful
// poll is younger than MaxMissed poll intervals.
type MonitorChecker struct {
	view      func() MonitorView
	now       func() time.Time
	MaxMissed int
}

// NewMonitorChecker creates a checker reading the loop state through view.
func NewMonitorChecker(view func() MonitorView) *MonitorChecker {
	return &MonitorChecker{view: view, now: time.Now, MaxMissed: 3}
}

func (c *MonitorChecker) Name() string {
	return "presence_monitor"
}

func (c *MonitorChecker) Check(_ context.Context) CheckResult {
	v := c.view()

	switch {
	case v.Aborted:
		return CheckResult{Status: StatusUnhealthy, Message: "session aborted"}
	case !v.Resolved:
		return CheckResult{Status: StatusUnhealthy, Message: "target not resolved yet"}
	case v.LastPollAt.IsZero():
		return CheckResult{Status: StatusUnhealthy, Message: "no successful poll yet", Error: v.LastPollError}
	}

	maxAge := time.Duration(c.MaxMissed) * v.PollInterval
	age := c.now().Sub(v.LastPollAt)
	if age > maxAge {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("last successful poll %s ago", age.Round(time.Second)),
			Error:   v.LastPollError,
		}
	}
	if v.LastPollError != "" {
		return CheckResult{Status: StatusDegraded, Message: "last poll failed", Error: v.LastPollError}
	}
	return CheckResult{Status: StatusHealthy, Message: "polling"}
}

// PingChecker wraps a ping function of an optional dependency. Failures degrade
// readiness without failing it.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingChecker creates a checker named name.
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Name() string {
	return c.name
}

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.ping(ctx); err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}
