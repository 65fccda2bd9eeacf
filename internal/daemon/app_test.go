// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	xglog "github.com/ManuGH/rbxjoin/internal/log"
)

type sessionFunc func(ctx context.Context) error

func (f sessionFunc) Run(ctx context.Context) error { return f(ctx) }

type fakeManager struct {
	startErr  error
	started   atomic.Bool
	shutdowns atomic.Int32
}

func (m *fakeManager) Start(ctx context.Context) error {
	m.started.Store(true)
	if m.startErr != nil {
		return m.startErr
	}
	<-ctx.Done()
	return nil
}

func (m *fakeManager) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	return nil
}

func (m *fakeManager) RegisterShutdownHook(string, ShutdownHook) {}

func (m *fakeManager) Addr() string { return "" }

func TestApp_RequiresManagerAndSession(t *testing.T) {
	logger := xglog.WithComponent("test")
	session := sessionFunc(func(context.Context) error { return nil })

	err := NewApp(logger, nil, session).Run(context.Background())
	assert.ErrorIs(t, err, ErrMissingManager)

	err = NewApp(logger, &fakeManager{}, nil).Run(context.Background())
	assert.ErrorIs(t, err, ErrMissingSession)
}

func TestApp_SessionAbortStopsManager(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	aborted := errors.New("session aborted")
	mgr := &fakeManager{}
	app := NewApp(xglog.WithComponent("test"), mgr, sessionFunc(func(context.Context) error {
		return aborted
	}))

	err := app.Run(context.Background())
	require.ErrorIs(t, err, aborted)
	assert.True(t, mgr.started.Load())
}

func TestApp_ManagerFailureStopsSession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	listenErr := errors.New("address in use")
	mgr := &fakeManager{startErr: listenErr}
	stopped := make(chan struct{})
	app := NewApp(xglog.WithComponent("test"), mgr, sessionFunc(func(ctx context.Context) error {
		defer close(stopped)
		<-ctx.Done()
		return nil
	}))

	err := app.Run(context.Background())
	require.ErrorIs(t, err, listenErr)
	assert.Equal(t, int32(1), mgr.shutdowns.Load())

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("session did not stop after manager failure")
	}
}

func TestApp_CancelReturnsNil(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	app := NewApp(xglog.WithComponent("test"), &fakeManager{}, sessionFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

type watcherFunc func(ctx context.Context) error

func (f watcherFunc) Watch(ctx context.Context) error { return f(ctx) }

func TestApp_ConfigWatcherFailureDoesNotStopApp(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	watched := make(chan struct{})
	app := NewApp(xglog.WithComponent("test"), &fakeManager{}, sessionFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})).WithConfigWatcher(watcherFunc(func(context.Context) error {
		close(watched)
		return errors.New("inotify limit reached")
	}))

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	<-watched
	select {
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
