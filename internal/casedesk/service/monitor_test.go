package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/domain"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/service"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/store"
	"github.com/aussiebroadwan/casedesk/pkg/slogx"
)

// countingSession wraps a CredentialStore and counts ClearAuth calls.
type countingSession struct {
	*service.CredentialStore
	clears atomic.Int32
}

func (c *countingSession) ClearAuth() error {
	c.clears.Add(1)
	return c.CredentialStore.ClearAuth()
}

type navRecorder struct {
	mu     sync.Mutex
	routes []domain.Route
}

func (n *navRecorder) Navigate(r domain.Route) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, r)
}

func (n *navRecorder) all() []domain.Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Route(nil), n.routes...)
}

type hookRecorder struct {
	mu       sync.Mutex
	warnings []time.Duration
	closed   int
	expired  int
	ticks    int
}

func (h *hookRecorder) hooks() service.Hooks {
	return service.Hooks{
		OnTick: func(time.Duration) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.ticks++
		},
		OnWarning: func(d time.Duration) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.warnings = append(h.warnings, d)
		},
		OnWarningClosed: func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.closed++
		},
		OnExpired: func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.expired++
		},
	}
}

type harness struct {
	clock   *service.ManualClock
	session *countingSession
	monitor *service.Monitor
	nav     *navRecorder
	hooks   *hookRecorder
}

func newHarness(t *testing.T, extender service.Extender) *harness {
	t.Helper()

	clock := service.NewManualClock(epoch)
	session := &countingSession{CredentialStore: newCredentialStore(t, store.NewMemory(), clock)}
	nav := &navRecorder{}
	hooks := &hookRecorder{}

	if extender == nil {
		extender = service.ExtenderFunc(func(context.Context) error { return nil })
	}

	m := service.NewMonitor(service.MonitorConfig{
		Store:     session,
		Extender:  extender,
		Navigator: nav,
		Clock:     clock,
		Logger:    slogx.Discard(),
		Hooks:     hooks.hooks(),
	})
	t.Cleanup(m.Close)

	unsubscribe := session.Subscribe(m.HandleAuthChange)
	t.Cleanup(unsubscribe)

	return &harness{clock: clock, session: session, monitor: m, nav: nav, hooks: hooks}
}

func (h *harness) login(t *testing.T, ttl time.Duration) {
	t.Helper()
	cred := domain.Credential{Value: "tok", ExpiresAt: h.clock.Now().Add(ttl)}
	require.NoError(t, h.session.SetAuth(cred, ada))
}

func TestMonitorNinetySecondSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.login(t, 90*time.Second)
	require.Equal(t, service.PhaseCounting, h.monitor.State().Phase)

	// Just short of the warning point.
	h.clock.Advance(30*time.Second - time.Millisecond)
	require.Equal(t, service.PhaseCounting, h.monitor.State().Phase)
	require.Equal(t, "1:00", service.FormatRemaining(h.monitor.Remaining()))

	h.clock.Advance(31*time.Second + time.Millisecond)
	require.Equal(t, service.PhaseWarning, h.monitor.State().Phase)
	require.Equal(t, []time.Duration{time.Minute}, h.hooks.warnings)

	h.clock.Advance(29 * time.Second)
	require.Equal(t, service.PhaseIdle, h.monitor.State().Phase)
	require.EqualValues(t, 1, h.session.clears.Load())
	require.False(t, h.session.IsAuthenticated())
	require.Equal(t, 1, h.hooks.expired)
	require.Equal(t, 1, h.hooks.closed)
	require.Equal(t, []domain.Route{domain.LoginRoute(true)}, h.nav.all())
	require.Zero(t, h.clock.Pending(), "no timers survive expiry")

	h.clock.Advance(time.Hour)
	require.EqualValues(t, 1, h.session.clears.Load())
}

func TestMonitorStartWithExpiredCredential(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	// Stop the countdown so the credential lapses unobserved.
	h.login(t, time.Minute)
	h.monitor.Stop()
	h.clock.Advance(2 * time.Minute)

	h.monitor.Start()
	require.Equal(t, service.PhaseIdle, h.monitor.State().Phase)
	require.Zero(t, h.clock.Pending())
	require.EqualValues(t, 1, h.session.clears.Load())
	require.Equal(t, []domain.Route{domain.LoginRoute(true)}, h.nav.all())
}

func TestMonitorShortSessionWarnsImmediately(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.login(t, 20*time.Second)
	h.clock.Advance(0)
	require.Equal(t, service.PhaseWarning, h.monitor.State().Phase)
	require.Equal(t, []time.Duration{20 * time.Second}, h.hooks.warnings)
}

func TestMonitorRotationRestartsTimers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.login(t, 90*time.Second)
	h.clock.Advance(70 * time.Second)
	require.Equal(t, service.PhaseWarning, h.monitor.State().Phase)

	// The credential store is updated first, as the gateway does.
	next := h.clock.Now().Add(15 * time.Minute)
	require.NoError(t, h.session.Rotate(domain.Credential{Value: "new", ExpiresAt: next}))
	h.monitor.Restart(next)

	require.Equal(t, service.PhaseCounting, h.monitor.State().Phase)
	require.Equal(t, 1, h.hooks.closed)
	require.Equal(t, 3, h.clock.Pending(), "exactly one timer set")

	// The old expiry instant passes without effect.
	h.clock.Advance(30 * time.Second)
	require.Equal(t, service.PhaseCounting, h.monitor.State().Phase)
	require.Zero(t, h.session.clears.Load())

	h.clock.Advance(14 * time.Minute)
	require.Equal(t, service.PhaseWarning, h.monitor.State().Phase)
}

func TestMonitorExpiryYieldsToStoredRotation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.login(t, 90*time.Second)
	h.clock.Advance(89*time.Second + 999*time.Millisecond)
	require.Equal(t, service.PhaseWarning, h.monitor.State().Phase)

	// The rotation lands in the store but its restart arrives only after
	// the old expiry instant.
	next := h.clock.Now().Add(15 * time.Minute)
	require.NoError(t, h.session.Rotate(domain.Credential{Value: "fresh", ExpiresAt: next}))
	h.clock.Advance(time.Millisecond)
	h.monitor.Restart(next)

	require.True(t, h.session.IsAuthenticated())
	require.Equal(t, "fresh", h.session.Credential().Value)
	require.Zero(t, h.session.clears.Load())
	require.Empty(t, h.nav.all())
	require.Zero(t, h.hooks.expired)

	s := h.monitor.State()
	require.Equal(t, service.PhaseCounting, s.Phase)
	require.False(t, s.WarningOpen)
	require.Equal(t, next, s.ExpiresAt)
	require.Equal(t, 3, h.clock.Pending())
}

func TestMonitorRemoteLogout(t *testing.T) {
	t.Parallel()

	setups := map[string]func(h *harness){
		"counting": func(h *harness) {},
		"warning":  func(h *harness) { h.clock.Advance(45 * time.Second) },
	}

	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, nil)
			h.login(t, 90*time.Second)
			setup(h)

			h.monitor.RemoteLogout()
			require.Equal(t, service.PhaseIdle, h.monitor.State().Phase)
			require.Zero(t, h.clock.Pending())
			require.Equal(t, []domain.Route{domain.LoginRoute(false)}, h.nav.all())

			h.clock.Advance(time.Hour)
			require.Zero(t, h.hooks.expired, "no expiry after remote logout")
		})
	}

	t.Run("extending", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		entered := make(chan struct{})
		h := newHarness(t, service.ExtenderFunc(func(context.Context) error {
			close(entered)
			<-release
			return nil
		}))
		h.login(t, 90*time.Second)
		h.clock.Advance(45 * time.Second)

		done := make(chan error, 1)
		go func() { done <- h.monitor.Extend(context.Background()) }()
		<-entered
		require.Equal(t, service.PhaseExtending, h.monitor.State().Phase)

		h.monitor.RemoteLogout()
		require.Equal(t, service.PhaseIdle, h.monitor.State().Phase)

		close(release)
		require.NoError(t, <-done)
		require.Equal(t, service.PhaseIdle, h.monitor.State().Phase, "late success does not revive the countdown")
	})
}

func TestMonitorSingleExtensionInFlight(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	entered := make(chan struct{})

	var h *harness
	h = newHarness(t, service.ExtenderFunc(func(context.Context) error {
		calls.Add(1)
		close(entered)
		<-release
		next := h.clock.Now().Add(15 * time.Minute)
		if err := h.session.Rotate(domain.Credential{Value: "rotated", ExpiresAt: next}); err != nil {
			return err
		}
		h.monitor.Restart(next)
		return nil
	}))

	h.login(t, 90*time.Second)
	h.clock.Advance(40 * time.Second)
	require.Equal(t, service.PhaseWarning, h.monitor.State().Phase)

	first := make(chan error, 1)
	go func() { first <- h.monitor.Extend(context.Background()) }()
	<-entered

	require.ErrorIs(t, h.monitor.Extend(context.Background()), service.ErrExtensionInFlight)
	require.ErrorIs(t, h.monitor.Extend(context.Background()), service.ErrExtensionInFlight)

	close(release)
	require.NoError(t, <-first)
	require.EqualValues(t, 1, calls.Load())

	s := h.monitor.State()
	require.Equal(t, service.PhaseCounting, s.Phase)
	require.False(t, s.InFlight)
	require.False(t, s.WarningOpen)
	require.Equal(t, "rotated", h.session.Credential().Value)
}

func TestMonitorExtensionFailureKeepsWarning(t *testing.T) {
	t.Parallel()

	backendErr := errors.New("gateway: error.network (0)")
	h := newHarness(t, service.ExtenderFunc(func(context.Context) error { return backendErr }))

	h.login(t, 90*time.Second)
	h.clock.Advance(40 * time.Second)

	err := h.monitor.Extend(context.Background())
	require.ErrorIs(t, err, backendErr)

	s := h.monitor.State()
	require.Equal(t, service.PhaseWarning, s.Phase)
	require.True(t, s.WarningOpen)
	require.False(t, s.InFlight)
	require.Zero(t, h.hooks.closed)

	// A retry is allowed once the first attempt has returned.
	require.ErrorIs(t, h.monitor.Extend(context.Background()), backendErr)
}

func TestMonitorExtendWhileIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	require.ErrorIs(t, h.monitor.Extend(context.Background()), service.ErrNotMonitoring)
}

func TestMonitorLocalLogoutStopsQuietly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.login(t, 90*time.Second)
	h.clock.Advance(45 * time.Second)
	require.NoError(t, h.session.ClearAuth())

	require.Equal(t, service.PhaseIdle, h.monitor.State().Phase)
	require.Zero(t, h.clock.Pending())
	require.Empty(t, h.nav.all())
	require.Equal(t, 1, h.hooks.closed)
}

func TestMonitorCloseStopsCallbacks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.login(t, 90*time.Second)
	h.clock.Advance(5 * time.Second)
	ticks := h.hooks.ticks

	h.monitor.Close()
	h.clock.Advance(time.Hour)

	require.Equal(t, ticks, h.hooks.ticks)
	require.Zero(t, h.hooks.expired)
	require.Zero(t, h.session.clears.Load())

	h.monitor.Start()
	require.Equal(t, service.PhaseIdle, h.monitor.State().Phase)
}

func TestMonitorCloseWaitsForRunningCallback(t *testing.T) {
	t.Parallel()

	clock := service.NewManualClock(epoch)
	session := newCredentialStore(t, store.NewMemory(), clock)
	entered := make(chan struct{})
	release := make(chan struct{})
	var navigations atomic.Int32

	m := service.NewMonitor(service.MonitorConfig{
		Store:    session,
		Extender: service.ExtenderFunc(func(context.Context) error { return nil }),
		Navigator: service.NavigatorFunc(func(domain.Route) {
			if navigations.Add(1) == 1 {
				close(entered)
				<-release
			}
		}),
		Clock:  clock,
		Logger: slogx.Discard(),
	})
	t.Cleanup(m.Close)
	t.Cleanup(session.Subscribe(m.HandleAuthChange))

	require.NoError(t, session.SetAuth(domain.Credential{Value: "tok", ExpiresAt: epoch.Add(90 * time.Second)}, ada))
	advanced := make(chan struct{})
	go func() {
		clock.Advance(90 * time.Second)
		close(advanced)
	}()
	<-entered

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()
	isClosed := func() bool {
		select {
		case <-closed:
			return true
		default:
			return false
		}
	}

	require.Never(t, isClosed, 50*time.Millisecond, 5*time.Millisecond)
	close(release)
	require.Eventually(t, isClosed, time.Second, 5*time.Millisecond)
	<-advanced

	require.NoError(t, session.SetAuth(domain.Credential{Value: "tok", ExpiresAt: clock.Now().Add(time.Second)}, ada))
	clock.Advance(time.Minute)
	require.EqualValues(t, 1, navigations.Load())
}
