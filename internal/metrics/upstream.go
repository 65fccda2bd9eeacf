// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rbxjoin_upstream_requests_total",
		Help: "Platform API requests by endpoint group and outcome",
	}, []string{"endpoint", "result"}) // result=ok|http_error|transport_error|timeout

	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rbxjoin_upstream_request_duration_seconds",
		Help:    "Latency of platform API requests by endpoint group",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"endpoint"})

	rateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rbxjoin_ratelimit_waits_total",
		Help: "Outbound requests that had to wait for the endpoint limiter",
	}, []string{"endpoint"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rbxjoin_upstream_breaker_state",
		Help: "Breaker guarding a platform endpoint group: 0 closed, 1 probing, 2 open",
	}, []string{"upstream"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rbxjoin_upstream_breaker_trips_total",
		Help: "Times the breaker stopped calling an unreachable endpoint group",
	}, []string{"upstream", "reason"}) // reason=threshold|probe_failed

	breakerRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rbxjoin_upstream_breaker_rejected_total",
		Help: "Calls skipped because the breaker was open",
	}, []string{"upstream"})
)

// ObserveUpstreamRequest records one platform API round trip.
func ObserveUpstreamRequest(endpoint, result string, d time.Duration) {
	upstreamRequests.WithLabelValues(endpoint, result).Inc()
	upstreamDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordRateLimitWait counts a request delayed by the outbound limiter.
func RecordRateLimitWait(endpoint string) {
	rateLimitWaits.WithLabelValues(endpoint).Inc()
}

// SetBreakerState exports the breaker state of upstream. Unknown states read as closed.
func SetBreakerState(upstream, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	breakerState.WithLabelValues(upstream).Set(v)
}

// RecordBreakerTrip counts a closed or probing breaker that opened.
func RecordBreakerTrip(upstream, reason string) {
	breakerTrips.WithLabelValues(upstream, reason).Inc()
}

// RecordBreakerRejection counts a call the open breaker refused.
func RecordBreakerRejection(upstream string) {
	breakerRejected.WithLabelValues(upstream).Inc()
}
