package service

import (
	"time"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/domain"
)

const (
	// DefaultWarningThreshold is how long before expiry the warning opens.
	DefaultWarningThreshold = 60 * time.Second

	// TickInterval is the countdown refresh period.
	TickInterval = time.Second
)

// Phase is the session monitor's position in its lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCounting
	PhaseWarning
	PhaseExtending
	PhaseExpired
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCounting:
		return "counting"
	case PhaseWarning:
		return "warning"
	case PhaseExtending:
		return "extending"
	case PhaseExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// State is the monitor's full state. Generation increases every time the
// timer set is replaced; timer events carry the generation they belong to.
type State struct {
	Phase       Phase
	ExpiresAt   time.Time
	Generation  uint64
	WarningOpen bool

	// InFlight is set while an extension request is outstanding. It is kept
	// apart from Phase because a rotation may restart the countdown before
	// the request returns.
	InFlight bool

	// resume is the phase an unsuccessful extension returns to.
	resume Phase
}

// Active reports whether a countdown is running.
func (s State) Active() bool {
	return s.Phase == PhaseCounting || s.Phase == PhaseWarning || s.Phase == PhaseExtending
}

// Events.
type (
	Event interface{ event() }

	// evStart begins monitoring a credential, or restarts after a rotation.
	evStart struct {
		Now       time.Time
		ExpiresAt time.Time
	}
	evRotated struct {
		Now       time.Time
		ExpiresAt time.Time
	}
	evTick struct {
		Generation uint64
		Now        time.Time
	}
	evWarningDue struct {
		Generation uint64
		Now        time.Time
	}
	// evExpiryDue carries the expiry of the credential the store holds when
	// the timer fires, which is later than the state's when a rotation has
	// landed but its restart has not.
	evExpiryDue struct {
		Generation uint64
		Now        time.Time
		Held       time.Time
	}
	evExtendBegin     struct{}
	evExtendSucceeded struct{}
	evExtendFailed    struct{}
	evStop            struct{}
	evRemoteLogout    struct{}
)

func (evStart) event()           {}
func (evRotated) event()         {}
func (evTick) event()            {}
func (evWarningDue) event()      {}
func (evExpiryDue) event()       {}
func (evExtendBegin) event()     {}
func (evExtendSucceeded) event() {}
func (evExtendFailed) event()    {}
func (evStop) event()            {}
func (evRemoteLogout) event()    {}

// Effects.
type (
	Effect interface{ effect() }

	effCancelTimers struct{}
	effSchedule     struct {
		Generation uint64
		Warning    time.Duration
		Expiry     time.Duration
		Tick       time.Duration
	}
	effTick         struct{ Remaining time.Duration }
	effShowWarning  struct{ Remaining time.Duration }
	effCloseWarning struct{}
	effClearAuth    struct{}
	effNavigate     struct{ Route domain.Route }
	effExpired      struct{}
)

func (effCancelTimers) effect() {}
func (effSchedule) effect()     {}
func (effTick) effect()         {}
func (effShowWarning) effect()  {}
func (effCloseWarning) effect() {}
func (effClearAuth) effect()    {}
func (effNavigate) effect()     {}
func (effExpired) effect()      {}

// machine holds the fixed parameters of the transition function.
type machine struct {
	threshold time.Duration
	tick      time.Duration
}

// transition is the whole of the monitor's logic. It has no side effects;
// the returned effects are performed by the caller in order.
func (m machine) transition(s State, ev Event) (State, []Effect) {
	switch ev := ev.(type) {
	case evStart:
		return m.restart(s, ev.Now, ev.ExpiresAt)

	case evRotated:
		if !s.Active() {
			return s, nil
		}
		return m.restart(s, ev.Now, ev.ExpiresAt)

	case evTick:
		if ev.Generation != s.Generation || !s.Active() {
			return s, nil
		}
		return s, []Effect{effTick{Remaining: max(s.ExpiresAt.Sub(ev.Now), 0)}}

	case evWarningDue:
		if ev.Generation != s.Generation || s.WarningOpen {
			return s, nil
		}
		switch s.Phase {
		case PhaseCounting:
			s.Phase = PhaseWarning
		case PhaseExtending:
			s.resume = PhaseWarning
		default:
			return s, nil
		}
		s.WarningOpen = true
		return s, []Effect{effShowWarning{Remaining: max(s.ExpiresAt.Sub(ev.Now), 0)}}

	case evExpiryDue:
		if ev.Generation != s.Generation || !s.Active() {
			return s, nil
		}
		if ev.Held.After(s.ExpiresAt) && ev.Held.After(ev.Now) {
			return m.restart(s, ev.Now, ev.Held)
		}
		return m.expire(s)

	case evExtendBegin:
		if s.InFlight || (s.Phase != PhaseCounting && s.Phase != PhaseWarning) {
			return s, nil
		}
		s.resume = s.Phase
		s.Phase = PhaseExtending
		s.InFlight = true
		return s, nil

	case evExtendSucceeded:
		s.InFlight = false
		if s.Phase != PhaseExtending {
			// A rotation already restarted the countdown.
			return s, nil
		}
		s.Phase = PhaseCounting
		if s.WarningOpen {
			s.WarningOpen = false
			return s, []Effect{effCloseWarning{}}
		}
		return s, nil

	case evExtendFailed:
		s.InFlight = false
		if s.Phase == PhaseExtending {
			s.Phase = s.resume
		}
		return s, nil

	case evStop:
		if !s.Active() {
			return s, nil
		}
		return m.idle(s)

	case evRemoteLogout:
		s, effects := m.idle(s)
		return s, append(effects, effNavigate{Route: domain.LoginRoute(false)})
	}

	return s, nil
}

// restart replaces the timer set for a new expiry. It always closes an open
// warning, even when the new credential is itself inside the threshold.
func (m machine) restart(s State, now, expiresAt time.Time) (State, []Effect) {
	s.ExpiresAt = expiresAt
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return m.expire(s)
	}

	s.Generation++
	s.Phase = PhaseCounting
	effects := []Effect{effCancelTimers{}}
	if s.WarningOpen {
		s.WarningOpen = false
		effects = append(effects, effCloseWarning{})
	}

	return s, append(effects,
		effSchedule{
			Generation: s.Generation,
			Warning:    max(remaining-m.threshold, 0),
			Expiry:     remaining,
			Tick:       m.tick,
		},
		effTick{Remaining: remaining},
	)
}

// expire passes through PhaseExpired and settles in PhaseIdle.
func (m machine) expire(s State) (State, []Effect) {
	s.Generation++
	effects := []Effect{effCancelTimers{}}
	if s.WarningOpen {
		s.WarningOpen = false
		effects = append(effects, effCloseWarning{})
	}
	s.Phase = PhaseIdle
	return s, append(effects,
		effClearAuth{},
		effExpired{},
		effNavigate{Route: domain.LoginRoute(true)},
	)
}

func (m machine) idle(s State) (State, []Effect) {
	s.Generation++
	s.Phase = PhaseIdle
	effects := []Effect{effCancelTimers{}}
	if s.WarningOpen {
		s.WarningOpen = false
		effects = append(effects, effCloseWarning{})
	}
	return s, effects
}
