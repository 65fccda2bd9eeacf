// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/rbxjoin/internal/identity"
	"github.com/ManuGH/rbxjoin/internal/jointicket"
	"github.com/ManuGH/rbxjoin/internal/model"
	"github.com/ManuGH/rbxjoin/internal/roblox"
)

// fakes

type fakeResolver struct {
	mu    sync.Mutex
	errs  []error
	id    model.Identity
	calls int
}

func (f *fakeResolver) Resolve(_ context.Context, handle string) (model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return model.Identity{}, err
	}
	return f.id, nil
}

func (f *fakeResolver) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type pollResult struct {
	snap model.PresenceSnapshot
	err  error
}

// scriptedPresence returns its results in order and then repeats the last one.
type scriptedPresence struct {
	mu      sync.Mutex
	results []pollResult
	ids     []int64
}

func (s *scriptedPresence) Poll(_ context.Context, userID int64) (model.PresenceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, userID)
	r := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	r.snap.NumericID = userID
	return r.snap, r.err
}

type fakeNegotiator struct {
	mu      sync.Mutex
	targets []model.GameInstanceRef
	creds   []string
	errs    []error
}

func (f *fakeNegotiator) Negotiate(_ context.Context, cred model.SessionCredential, target model.GameInstanceRef) (model.JoinTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	f.creds = append(f.creds, cred.Reveal())
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return model.JoinTicket{}, err
		}
	}
	return model.JoinTicket{Value: "ticket-" + target.InstanceID, IssuedFor: target}, nil
}

func (f *fakeNegotiator) Targets() []model.GameInstanceRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.GameInstanceRef(nil), f.targets...)
}

type recorder struct {
	mu   sync.Mutex
	got  []string
	fail error
}

func (r *recorder) Launch(_ context.Context, uri string) error  { return r.record(uri) }
func (r *recorder) Notify(_ context.Context, text string) error { return r.record(text) }

func (r *recorder) record(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, s)
	return r.fail
}

func (r *recorder) Got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

// snapshots

func inGame(placeID int64, instanceID string) pollResult {
	return pollResult{snap: model.PresenceSnapshot{
		State:      model.PresenceInGame,
		PlaceID:    &placeID,
		InstanceID: &instanceID,
		ObservedAt: time.Now(),
	}}
}

func inState(s model.PresenceState) pollResult {
	return pollResult{snap: model.PresenceSnapshot{State: s, ObservedAt: time.Now()}}
}

func failed(err error) pollResult { return pollResult{err: err} }

var alice = model.Identity{Handle: "Alice", NumericID: 555}

type harness struct {
	o          *Orchestrator
	resolver   *fakeResolver
	presence   *scriptedPresence
	negotiator *fakeNegotiator
	launcher   *recorder
	notifier   *recorder
}

func newHarness(opts Options, results ...pollResult) *harness {
	h := &harness{
		resolver:   &fakeResolver{id: alice},
		presence:   &scriptedPresence{results: results},
		negotiator: &fakeNegotiator{},
		launcher:   &recorder{},
		notifier:   &recorder{},
	}
	if opts.Handle == "" {
		opts.Handle = "Alice"
	}
	if opts.Credential.IsZero() {
		opts.Credential = model.NewSessionCredential("cookie")
	}
	h.o = New(Deps{
		Resolver:   h.resolver,
		Presence:   h.presence,
		Negotiator: h.negotiator,
		Launcher:   h.launcher,
		Notifier:   h.notifier,
	}, opts)
	return h
}

// ticks resolves the target and runs n monitoring steps inline.
func (h *harness) ticks(t *testing.T, n int) {
	t.Helper()
	ctx := context.Background()
	id, err := h.o.resolve(ctx)
	require.NoError(t, err)
	h.o.setState(StateMonitoring)
	for i := 0; i < n; i++ {
		h.o.tick(ctx, id)
	}
}

func TestShouldNegotiate(t *testing.T) {
	job1 := inGame(100, "job-1").snap
	job1Again := inGame(100, "job-1").snap
	job2 := inGame(100, "job-2").snap
	otherPlace := inGame(200, "job-1").snap
	online := inState(model.PresenceOnline).snap

	tests := []struct {
		name string
		prev *model.PresenceSnapshot
		cur  model.PresenceSnapshot
		want bool
	}{
		{"first snapshot in game", nil, job1, true},
		{"first snapshot online", nil, online, false},
		{"entered game", &online, job1, true},
		{"same instance", &job1, job1Again, false},
		{"instance changed", &job1, job2, true},
		{"place changed", &job1, otherPlace, true},
		{"left game", &job1, online, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldNegotiate(tt.prev, tt.cur))
		})
	}
}

func TestScenario_NegotiatesOncePerInstance(t *testing.T) {
	h := newHarness(Options{},
		inGame(100, "job-1"),
		inGame(100, "job-1"),
		inGame(100, "job-2"),
	)
	h.ticks(t, 3)

	assert.Equal(t, []model.GameInstanceRef{
		{PlaceID: 100, InstanceID: "job-1"},
		{PlaceID: 100, InstanceID: "job-2"},
	}, h.negotiator.Targets())
	assert.Equal(t, []string{
		"roblox://placeId=100&gameId=job-1&ticket=ticket-job-1",
		"roblox://placeId=100&gameId=job-2&ticket=ticket-job-2",
	}, h.launcher.Got())
	assert.Equal(t, []int64{555, 555, 555}, h.presence.ids)
	assert.Equal(t, 1, h.resolver.Calls())
	assert.Equal(t, StateMonitoring, h.o.State())
}

func TestScenario_NeverNegotiatesOutsideGame(t *testing.T) {
	h := newHarness(Options{},
		inState(model.PresenceOffline),
		inState(model.PresenceOnline),
		inState(model.PresenceInStudio),
		inState(model.PresenceOffline),
	)
	h.ticks(t, 4)

	assert.Empty(t, h.negotiator.Targets())
	assert.Empty(t, h.launcher.Got())
}

func TestScenario_ReenteringSameInstanceRetriggers(t *testing.T) {
	h := newHarness(Options{},
		inGame(100, "job-1"),
		inState(model.PresenceOnline),
		inGame(100, "job-1"),
	)
	h.ticks(t, 3)

	assert.Len(t, h.negotiator.Targets(), 2)
}

func TestScenario_TransientPollFailureRecovers(t *testing.T) {
	h := newHarness(Options{},
		failed(&roblox.APIError{Sentinel: roblox.ErrUnavailable, Operation: "presence"}),
		inGame(100, "job-1"),
	)
	h.ticks(t, 2)

	assert.Equal(t, []model.GameInstanceRef{{PlaceID: 100, InstanceID: "job-1"}}, h.negotiator.Targets())
	assert.Empty(t, h.o.Status().LastPollError)
}

func TestScenario_PollFailureBetweenSameInstanceDoesNotRetrigger(t *testing.T) {
	h := newHarness(Options{},
		inGame(100, "job-1"),
		failed(errors.New("network down")),
		inGame(100, "job-1"),
	)
	h.ticks(t, 3)

	assert.Len(t, h.negotiator.Targets(), 1)
}

func TestScenario_NegotiationFailureDoesNotAbort(t *testing.T) {
	protocolErr := &jointicket.Error{Stage: jointicket.StageExtract, Kind: jointicket.ErrTicketMissing, Status: 302}
	h := newHarness(Options{},
		inGame(100, "job-1"),
		inGame(100, "job-1"),
		inGame(100, "job-2"),
	)
	h.negotiator.errs = []error{protocolErr}
	h.ticks(t, 3)

	assert.Equal(t, []model.GameInstanceRef{
		{PlaceID: 100, InstanceID: "job-1"},
		{PlaceID: 100, InstanceID: "job-2"},
	}, h.negotiator.Targets(), "protocol failures are not retried on the same instance")
	assert.Equal(t, []string{"roblox://placeId=100&gameId=job-2&ticket=ticket-job-2"}, h.launcher.Got())
	assert.Equal(t, StateMonitoring, h.o.State())
	assert.Equal(t, 1, h.o.Status().JoinsDispatched)
}

func TestScenario_UnreachableNegotiationRetriesNextTick(t *testing.T) {
	unreachable := &jointicket.Error{Stage: jointicket.StageCSRF, Err: &roblox.APIError{Sentinel: roblox.ErrTimeout, Operation: "auth"}}
	h := newHarness(Options{},
		inGame(100, "job-1"),
		inGame(100, "job-1"),
		inGame(100, "job-1"),
	)
	h.negotiator.errs = []error{unreachable}
	h.ticks(t, 3)

	assert.Len(t, h.negotiator.Targets(), 2)
	assert.Len(t, h.launcher.Got(), 1)
}

func TestDispatch_NotificationFailureStillLaunches(t *testing.T) {
	h := newHarness(Options{}, inGame(100, "job-1"))
	h.notifier.fail = errors.New("webhook down")
	h.ticks(t, 1)

	require.Len(t, h.notifier.Got(), 1)
	assert.Contains(t, h.notifier.Got()[0], "place 100, server job-1")
	assert.NotContains(t, h.notifier.Got()[0], "ticket")
	assert.Len(t, h.launcher.Got(), 1)
}

func TestDispatch_LaunchFailureIsNotFatal(t *testing.T) {
	h := newHarness(Options{}, inGame(100, "job-1"), inGame(100, "job-2"))
	h.launcher.fail = errors.New("no opener")
	h.ticks(t, 2)

	assert.Len(t, h.launcher.Got(), 2)
	assert.Equal(t, StateMonitoring, h.o.State())

	st := h.o.Status()
	assert.Zero(t, st.JoinsDispatched)
	assert.Nil(t, st.LastJoin)
	assert.Nil(t, st.LastJoinAt)
	assert.Contains(t, st.LastJoinError, "no opener")
}

func TestDispatch_JoinDelayHonoursCancellation(t *testing.T) {
	h := newHarness(Options{JoinDelay: time.Hour}, inGame(100, "job-1"))

	ctx, cancel := context.WithCancel(context.Background())
	id, err := h.o.resolve(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.o.tick(ctx, id)
	}()

	require.Eventually(t, func() bool { return len(h.notifier.Got()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tick did not return after cancellation")
	}
	assert.Empty(t, h.launcher.Got())
	assert.Zero(t, h.o.Status().JoinsDispatched)
	assert.Nil(t, h.o.Status().LastJoinAt)
}

func TestOnce_CancelledDuringJoinDelay(t *testing.T) {
	h := newHarness(Options{JoinDelay: time.Hour}, inGame(100, "job-1"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		assert.Eventually(t, func() bool { return len(h.notifier.Got()) == 1 }, time.Second, 5*time.Millisecond)
	}()

	_, err := h.o.Once(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.launcher.Got())
	assert.Zero(t, h.o.Status().JoinsDispatched)
}

func TestStatus_OmitsTimesBeforeFirstPoll(t *testing.T) {
	h := newHarness(Options{}, inState(model.PresenceOffline))

	raw, err := json.Marshal(h.o.Status())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "lastPollAt")
	assert.NotContains(t, string(raw), "lastJoinAt")
	assert.NotContains(t, string(raw), "0001-01-01")
}

func TestResolve_RetriesUpToAttempts(t *testing.T) {
	h := newHarness(Options{ResolveAttempts: 3, ResolveBackoff: time.Millisecond}, inState(model.PresenceOffline))
	h.resolver.errs = []error{errors.New("timeout"), errors.New("timeout")}

	id, err := h.o.resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, alice, id)
	assert.Equal(t, 3, h.resolver.Calls())
}

func TestResolve_UnknownHandleIsNotRetried(t *testing.T) {
	h := newHarness(Options{ResolveAttempts: 3, ResolveBackoff: time.Millisecond}, inState(model.PresenceOffline))
	h.resolver.errs = []error{&identity.ResolutionError{Handle: "ghost", Err: identity.ErrUnknownHandle}}

	_, err := h.o.resolve(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, h.resolver.Calls())
}

func TestRun_AbortsWhenResolutionFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	cause := &identity.ResolutionError{Handle: "Alice", Err: roblox.ErrUnavailable}
	h := newHarness(Options{}, inState(model.PresenceOffline))
	h.resolver.errs = []error{cause}

	err := h.o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, roblox.ErrUnavailable)
	assert.Equal(t, StateAborted, h.o.State())
	assert.NotEmpty(t, h.o.Status().AbortReason)
	assert.Empty(t, h.presence.ids, "no polling after abort")
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(Options{PollInterval: 5 * time.Millisecond},
		inState(model.PresenceOnline),
		inGame(100, "job-1"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.o.Run(ctx) }()

	require.Eventually(t, func() bool { return len(h.launcher.Got()) == 1 }, 2*time.Second, 5*time.Millisecond)
	// Several more ticks of the same instance.
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	assert.Len(t, h.negotiator.Targets(), 1)
	assert.Equal(t, 1, h.resolver.Calls())

	st := h.o.Status()
	assert.Equal(t, int64(555), st.UserID)
	assert.Equal(t, 1, st.JoinsDispatched)
	require.NotNil(t, st.Instance)
	assert.Equal(t, "job-1", st.Instance.InstanceID)
	require.NotNil(t, st.LastPollAt)
	assert.False(t, st.LastPollAt.IsZero())
	require.NotNil(t, st.LastJoinAt)
}

func TestOnce(t *testing.T) {
	t.Run("in game", func(t *testing.T) {
		h := newHarness(Options{}, inGame(100, "job-1"))

		d, err := h.o.Once(context.Background())
		require.NoError(t, err)
		assert.Equal(t, model.JoinDirective{PlaceID: 100, InstanceID: "job-1", Ticket: "ticket-job-1"}, d)
		assert.Len(t, h.launcher.Got(), 1)
	})

	t.Run("not in game", func(t *testing.T) {
		h := newHarness(Options{}, inState(model.PresenceOnline))

		_, err := h.o.Once(context.Background())
		require.ErrorIs(t, err, ErrNotInGame)
		assert.Empty(t, h.negotiator.Targets())
	})

	t.Run("poll failure", func(t *testing.T) {
		h := newHarness(Options{}, failed(roblox.ErrUnavailable))

		_, err := h.o.Once(context.Background())
		require.ErrorIs(t, err, roblox.ErrUnavailable)
	})

	t.Run("resolution failure aborts", func(t *testing.T) {
		h := newHarness(Options{}, inGame(100, "job-1"))
		h.resolver.errs = []error{errors.New("boom")}

		_, err := h.o.Once(context.Background())
		require.ErrorIs(t, err, ErrAborted)
		assert.Equal(t, StateAborted, h.o.State())
	})
}

func TestNew_Defaults(t *testing.T) {
	o := New(Deps{}, Options{Handle: "Alice"})
	assert.Equal(t, StateIdle, o.State())
	assert.Equal(t, 5*time.Second, o.Status().PollInterval)
	assert.Equal(t, 1, o.opts.ResolveAttempts)
}

func TestReconfigure_AppliesToNextJoin(t *testing.T) {
	h := newHarness(Options{Credential: model.NewSessionCredential("old-cookie")}, inGame(100, "job-1"))

	_, err := h.o.Once(context.Background())
	require.NoError(t, err)

	h.o.Reconfigure(model.NewSessionCredential("new-cookie"), 0)
	_, err = h.o.join(context.Background(), model.GameInstanceRef{PlaceID: 100, InstanceID: "job-2"})
	require.NoError(t, err)

	h.negotiator.mu.Lock()
	defer h.negotiator.mu.Unlock()
	assert.Equal(t, []string{"old-cookie", "new-cookie"}, h.negotiator.creds)
}
