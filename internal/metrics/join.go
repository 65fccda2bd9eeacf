// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	identityResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rbxjoin_identity_resolutions_total",
		Help: "Identity resolutions by outcome and source",
	}, []string{"result", "source"}) // source=cache|upstream

	presencePolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rbxjoin_presence_polls_total",
		Help: "Presence polls by outcome",
	}, []string{"result"}) // result=ok|error|malformed

	presenceState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rbxjoin_presence_state",
		Help: "Last observed presence state of the target (active state=1)",
	}, []string{"state"})

	lastPollTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rbxjoin_presence_last_success_timestamp_seconds",
		Help: "Unix time of the last successful presence poll",
	})

	negotiations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rbxjoin_negotiations_total",
		Help: "Join ticket negotiations by outcome",
	}, []string{"result"}) // result=success|missing_csrf|unexpected_response|redirect_missing|ticket_missing|error

	negotiationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rbxjoin_negotiation_duration_seconds",
		Help:    "Time spent negotiating a join ticket",
		Buckets: prometheus.DefBuckets,
	})

	dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rbxjoin_dispatch_total",
		Help: "Join directive side effects by sink and outcome",
	}, []string{"sink", "result"}) // sink=launch|notify

	orchestratorState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rbxjoin_orchestrator_state",
		Help: "Current orchestrator state (active state=1)",
	}, []string{"state"})
)

var presenceStates = []string{"offline", "online", "in_game", "in_studio"}

var orchestratorStates = []string{"idle", "resolving", "monitoring", "negotiating", "dispatching", "aborted"}

// RecordIdentityResolution counts a resolve call.
func RecordIdentityResolution(result, source string) {
	identityResolutions.WithLabelValues(result, source).Inc()
}

// RecordPresencePoll counts a presence poll outcome.
func RecordPresencePoll(result string) {
	presencePolls.WithLabelValues(result).Inc()
	if result != "error" {
		lastPollTimestamp.SetToCurrentTime()
	}
}

// SetPresenceState marks the last observed presence state.
func SetPresenceState(state string) {
	setActive(presenceState, presenceStates, state)
}

// RecordNegotiation counts a negotiation outcome and its duration.
func RecordNegotiation(result string, d time.Duration) {
	negotiations.WithLabelValues(result).Inc()
	negotiationDuration.Observe(d.Seconds())
}

// RecordDispatch counts a launch or notify side effect.
func RecordDispatch(sink, result string) {
	dispatches.WithLabelValues(sink, result).Inc()
}

// SetOrchestratorState marks the active orchestrator state.
func SetOrchestratorState(state string) {
	setActive(orchestratorState, orchestratorStates, state)
}

func setActive(g *prometheus.GaugeVec, all []string, active string) {
	for _, s := range all {
		value := 0.0
		if s == active {
			value = 1.0
		}
		g.WithLabelValues(s).Set(value)
	}
}
