// Package timeout enforces the lifetime policies of a live thread instance:
// a short grace period once the last browser disconnects, a long inactivity
// window for interactive use, and a tighter one for oneshot runs.
package timeout

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Reason identifies which policy expired.
type Reason string

const (
	// ReasonDisconnect fires when no client reconnected within the grace period.
	ReasonDisconnect Reason = "disconnect"
	// ReasonInactivity fires when the thread saw no user activity for too long.
	ReasonInactivity Reason = "inactivity"
)

// Config holds the three timeout spans. Zero values are not valid; callers
// take them from the validated server configuration.
type Config struct {
	Disconnect  time.Duration
	Interactive time.Duration
	Oneshot     time.Duration
}

// Supervisor watches one thread instance and invokes onTimeout exactly once
// when a policy expires. All methods are safe for concurrent use.
type Supervisor struct {
	mu        sync.Mutex
	clock     clock.Clock
	cfg       Config
	onTimeout func(Reason)

	disconnect *clock.Timer
	inactivity *clock.Timer
	oneshot    bool
	fired      bool
	stopped    bool
}

// New creates a supervisor with the inactivity timer already running at the
// interactive span. The clock is injectable so tests can drive time.
func New(cfg Config, clk clock.Clock, onTimeout func(Reason)) *Supervisor {
	s := &Supervisor{
		clock:     clk,
		cfg:       cfg,
		onTimeout: onTimeout,
	}
	s.inactivity = clk.AfterFunc(cfg.Interactive, func() { s.fire(ReasonInactivity) })
	return s
}

// ArmDisconnect starts (or restarts) the disconnect grace timer. Called when
// the last subscriber goes away.
func (s *Supervisor) ArmDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired || s.stopped {
		return
	}
	if s.disconnect != nil {
		s.disconnect.Reset(s.cfg.Disconnect)
		return
	}
	s.disconnect = s.clock.AfterFunc(s.cfg.Disconnect, func() { s.fire(ReasonDisconnect) })
}

// DisarmDisconnect cancels the grace timer. Called when a client reconnects.
func (s *Supervisor) DisarmDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnect != nil {
		s.disconnect.Stop()
		s.disconnect = nil
	}
}

// MarkOneshot switches the inactivity window to the oneshot span and restarts
// it. Used for instances created without a browser connection.
func (s *Supervisor) MarkOneshot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oneshot = true
	if s.fired || s.stopped {
		return
	}
	s.inactivity.Reset(s.cfg.Oneshot)
}

// MarkInteractive clears the oneshot flag and restarts the inactivity window
// at the interactive span. Used when a live subscriber attaches.
func (s *Supervisor) MarkInteractive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oneshot = false
	if s.fired || s.stopped {
		return
	}
	s.inactivity.Reset(s.cfg.Interactive)
}

// ResetInactivity restarts the inactivity window. Called on any user activity.
func (s *Supervisor) ResetInactivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired || s.stopped {
		return
	}
	span := s.cfg.Interactive
	if s.oneshot {
		span = s.cfg.Oneshot
	}
	s.inactivity.Reset(span)
}

// Stop cancels all timers. The supervisor will never fire afterwards.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.stopTimersLocked()
}

// Fired reports whether a policy has already expired.
func (s *Supervisor) Fired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

func (s *Supervisor) stopTimersLocked() {
	if s.disconnect != nil {
		s.disconnect.Stop()
		s.disconnect = nil
	}
	if s.inactivity != nil {
		s.inactivity.Stop()
	}
}

// fire marks the supervisor expired and invokes the callback with the mutex
// released, so the callback may call back into the supervisor or run under a
// synchronous mock clock.
func (s *Supervisor) fire(reason Reason) {
	s.mu.Lock()
	if s.fired || s.stopped {
		s.mu.Unlock()
		return
	}
	s.fired = true
	s.stopTimersLocked()
	cb := s.onTimeout
	s.mu.Unlock()

	if cb != nil {
		cb(reason)
	}
}
