// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLimiter_BurstPassesImmediately(t *testing.T) {
	l := New(Config{Rate: 1, Burst: 3})

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(context.Background(), "presence"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := New(Config{Rate: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "auth"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "auth"))
}

func TestLimiter_GroupsAreIndependent(t *testing.T) {
	l := New(Config{Rate: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "presence"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, l.Wait(ctx, "teleport"))
}

func TestLimiter_OverrideAndUnlimited(t *testing.T) {
	l := New(Config{Rate: 0, Burst: 1, Overrides: map[string]rate.Limit{"users": 0.1}})

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Wait(context.Background(), "presence"))
	}

	require.NoError(t, l.Wait(context.Background(), "users"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "users"))
}

func TestLimiter_NilNeverBlocks(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Wait(context.Background(), "any"))
}
