package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/domain"
)

var (
	ErrExtensionInFlight = errors.New("extension_in_flight")
	ErrNotMonitoring     = errors.New("not_monitoring")
)

// Navigator routes the user interface. Forced and remote logouts send the
// user to the login route.
type Navigator interface {
	Navigate(route domain.Route)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(domain.Route)

func (f NavigatorFunc) Navigate(r domain.Route) { f(r) }

// Extender asks the backend to extend the session. A successful call
// normally rotates the credential as a side effect.
type Extender interface {
	ExtendSession(ctx context.Context) error
}

// ExtenderFunc adapts a function to Extender.
type ExtenderFunc func(ctx context.Context) error

func (f ExtenderFunc) ExtendSession(ctx context.Context) error { return f(ctx) }

// SessionSource is the part of the credential store the monitor reads and
// clears.
type SessionSource interface {
	Credential() domain.Credential
	ClearAuth() error
}

// Hooks are user interface callbacks. Any may be nil. They run outside the
// monitor's lock and may call back into it.
type Hooks struct {
	OnTick          func(remaining time.Duration)
	OnWarning       func(remaining time.Duration)
	OnWarningClosed func()
	OnExpired       func()
}

// Metrics receives session lifecycle counts.
type Metrics interface {
	WarningShown()
	SessionExpired()
	RemoteLogout()
	ExtensionDone(ok bool)
}

type nopMetrics struct{}

func (nopMetrics) WarningShown()      {}
func (nopMetrics) SessionExpired()    {}
func (nopMetrics) RemoteLogout()      {}
func (nopMetrics) ExtensionDone(bool) {}

type MonitorConfig struct {
	Store            SessionSource
	Extender         Extender
	Navigator        Navigator
	Clock            Clock
	Logger           *slog.Logger
	Hooks            Hooks
	Metrics          Metrics
	WarningThreshold time.Duration
}

// Monitor counts down to credential expiry, opens the warning, runs
// extensions and forces logout at expiry. One Monitor serves one execution
// context. All events are serialised; timers from a replaced generation are
// discarded.
type Monitor struct {
	store    SessionSource
	extender Extender
	nav      Navigator
	clock    Clock
	logger   *slog.Logger
	hooks    Hooks
	metrics  Metrics
	machine  machine

	mu       sync.Mutex
	state    State
	timers   []Timer
	closed   bool
	inflight sync.WaitGroup
}

func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Navigator == nil {
		cfg.Navigator = NavigatorFunc(func(domain.Route) {})
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = DefaultWarningThreshold
	}

	return &Monitor{
		store:    cfg.Store,
		extender: cfg.Extender,
		nav:      cfg.Navigator,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("component", "session_monitor"),
		hooks:    cfg.Hooks,
		metrics:  cfg.Metrics,
		machine:  machine{threshold: cfg.WarningThreshold, tick: TickInterval},
	}
}

// Start begins counting down the store's current credential. An expired
// credential is expired immediately; no credential leaves the monitor idle.
func (m *Monitor) Start() {
	cred := m.store.Credential()
	if cred.IsZero() {
		return
	}
	m.dispatch(evStart{Now: m.clock.Now(), ExpiresAt: cred.ExpiresAt})
}

// Restart applies a rotated expiry. It is ignored while idle.
func (m *Monitor) Restart(expiresAt time.Time) {
	m.dispatch(evRotated{Now: m.clock.Now(), ExpiresAt: expiresAt})
}

// HandleAuthChange starts or stops the countdown on login and logout.
func (m *Monitor) HandleAuthChange(change AuthChange) {
	if change.Authenticated {
		m.dispatch(evStart{Now: m.clock.Now(), ExpiresAt: change.ExpiresAt})
		return
	}
	m.Stop()
}

// Stop cancels the countdown without navigating.
func (m *Monitor) Stop() {
	m.dispatch(evStop{})
}

// RemoteLogout handles a logout made by another execution context: the
// countdown stops and the user is sent to login without the expired flag.
func (m *Monitor) RemoteLogout() {
	m.metrics.RemoteLogout()
	m.logger.Info("remote_logout")
	m.dispatch(evRemoteLogout{})
}

// Extend asks the backend for a fresh credential. Only one extension runs at
// a time; concurrent callers get ErrExtensionInFlight. On failure the
// warning stays open and the backend error is returned.
func (m *Monitor) Extend(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.closed, !m.state.Active():
		m.mu.Unlock()
		return ErrNotMonitoring
	case m.state.InFlight:
		m.mu.Unlock()
		return ErrExtensionInFlight
	}
	m.state, _ = m.machine.transition(m.state, evExtendBegin{})
	m.mu.Unlock()

	if err := m.extender.ExtendSession(ctx); err != nil {
		m.metrics.ExtensionDone(false)
		m.logger.Warn("session_extension_failed", "error", err)
		m.dispatch(evExtendFailed{})
		return fmt.Errorf("extend session: %w", err)
	}

	m.metrics.ExtensionDone(true)
	m.logger.Info("session_extended")
	m.dispatch(evExtendSucceeded{})
	return nil
}

// State returns a copy of the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Remaining returns the time left on the running countdown, zero when idle.
func (m *Monitor) Remaining() time.Duration {
	s := m.State()
	if !s.Active() {
		return 0
	}
	return max(s.ExpiresAt.Sub(m.clock.Now()), 0)
}

// Close stops the countdown and waits for callbacks already under way. No
// timer callback runs monitor logic after Close returns. Hooks and the
// Navigator must not call Close.
func (m *Monitor) Close() {
	m.dispatch(evStop{})

	m.mu.Lock()
	m.closed = true
	m.cancelTimersLocked()
	m.mu.Unlock()

	m.inflight.Wait()
}

func (m *Monitor) dispatch(ev Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.inflight.Add(1)
	defer m.inflight.Done()

	prev := m.state.Phase
	next, effects := m.machine.transition(m.state, ev)
	m.state = next

	deferred := effects[:0:0]
	for _, eff := range effects {
		switch eff := eff.(type) {
		case effCancelTimers:
			m.cancelTimersLocked()
		case effSchedule:
			m.scheduleLocked(eff)
		default:
			deferred = append(deferred, eff)
		}
	}
	m.mu.Unlock()

	if prev != next.Phase {
		m.logger.Debug("phase_changed", "from", prev.String(), "to", next.Phase.String())
	}
	m.perform(deferred)
}

func (m *Monitor) cancelTimersLocked() {
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = m.timers[:0]
}

func (m *Monitor) scheduleLocked(e effSchedule) {
	gen := e.Generation
	m.timers = append(m.timers,
		m.clock.AfterFunc(e.Warning, func() {
			m.dispatch(evWarningDue{Generation: gen, Now: m.clock.Now()})
		}),
		m.clock.AfterFunc(e.Expiry, func() {
			held := m.store.Credential().ExpiresAt
			m.dispatch(evExpiryDue{Generation: gen, Now: m.clock.Now(), Held: held})
		}),
		m.clock.Every(e.Tick, func() {
			m.dispatch(evTick{Generation: gen, Now: m.clock.Now()})
		}),
	)
}

func (m *Monitor) perform(effects []Effect) {
	for _, eff := range effects {
		switch eff := eff.(type) {
		case effTick:
			if m.hooks.OnTick != nil {
				m.hooks.OnTick(eff.Remaining)
			}
		case effShowWarning:
			m.metrics.WarningShown()
			m.logger.Info("session_warning", "remaining", FormatRemaining(eff.Remaining))
			if m.hooks.OnWarning != nil {
				m.hooks.OnWarning(eff.Remaining)
			}
		case effCloseWarning:
			if m.hooks.OnWarningClosed != nil {
				m.hooks.OnWarningClosed()
			}
		case effClearAuth:
			if err := m.store.ClearAuth(); err != nil {
				m.logger.Error("failed to clear expired session", "error", err)
			}
		case effExpired:
			m.metrics.SessionExpired()
			m.logger.Info("session_expired")
			if m.hooks.OnExpired != nil {
				m.hooks.OnExpired()
			}
		case effNavigate:
			m.nav.Navigate(eff.Route)
		}
	}
}

// FormatRemaining renders d as M:SS, rounding down to whole seconds.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
