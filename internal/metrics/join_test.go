// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromhttpExposure(t *testing.T) {
	RecordPresencePoll("ok")

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "rbxjoin_presence_polls_total"))
}

func TestSetPresenceStateIsExclusive(t *testing.T) {
	SetPresenceState("in_game")
	assert.Equal(t, 1.0, testutil.ToFloat64(presenceState.WithLabelValues("in_game")))
	assert.Equal(t, 0.0, testutil.ToFloat64(presenceState.WithLabelValues("offline")))

	SetPresenceState("offline")
	assert.Equal(t, 0.0, testutil.ToFloat64(presenceState.WithLabelValues("in_game")))
	assert.Equal(t, 1.0, testutil.ToFloat64(presenceState.WithLabelValues("offline")))
}

func TestRecordNegotiationCounts(t *testing.T) {
	before := testutil.ToFloat64(negotiations.WithLabelValues("ticket_missing"))
	RecordNegotiation("ticket_missing", 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(negotiations.WithLabelValues("ticket_missing")))
}

func TestSetBreakerState(t *testing.T) {
	SetBreakerState("presence", "open")
	assert.Equal(t, 2.0, testutil.ToFloat64(breakerState.WithLabelValues("presence")))

	SetBreakerState("presence", "half-open")
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerState.WithLabelValues("presence")))

	SetBreakerState("presence", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(breakerState.WithLabelValues("presence")))
}

func TestRecordBreakerRejection(t *testing.T) {
	before := testutil.ToFloat64(breakerRejected.WithLabelValues("presence"))
	RecordBreakerRejection("presence")
	assert.Equal(t, before+1, testutil.ToFloat64(breakerRejected.WithLabelValues("presence")))
}
