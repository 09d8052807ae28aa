// Package resilience tracks the health of the long-lived inference session
// and decides when to fall back, when to reconnect and which resumption
// handle to present.
//
// The Machine never sleeps and never touches the network. The caller reports
// what happened (connected, failed, time passed) and the Machine answers with
// delays and emits BeginFallback / ResumeNormal commands to a Commander.
//
//	m := resilience.NewMachine(cfg, commander)
//	m.Connected(now)
//	...
//	delay := m.Fail(now, err, false)
//	handle, attempt := m.BeginReconnect(now)
package resilience

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Default timings.
const (
	DefaultHold        = 2 * time.Second
	DefaultGoAwayDelay = 200 * time.Millisecond
)

// Config configures a Machine.
type Config struct {
	// Hold is how long after degradation the fallback keeps values frozen.
	Hold time.Duration

	// Backoff spaces reconnect attempts after errors.
	Backoff BackoffConfig

	// GoAwayDelay is the delay before reconnecting after the remote asked
	// the session to end.
	GoAwayDelay time.Duration

	// Rand is used for backoff jitter. Nil uses a fixed jitter factor.
	Rand *rand.Rand
}

// DefaultConfig returns the default machine configuration.
func DefaultConfig() Config {
	return Config{
		Hold:        DefaultHold,
		Backoff:     DefaultBackoff(),
		GoAwayDelay: DefaultGoAwayDelay,
	}
}

// Snapshot is a consistent copy of the machine state.
type Snapshot struct {
	Phase Phase `json:"phase"`
	// Fallback is DegradedHolding or DegradedRamping while the fallback
	// trajectory runs, including while reconnecting, and Idle otherwise.
	Fallback  Phase     `json:"fallback"`
	Attempt   int       `json:"attempt"`
	Onset     time.Time `json:"onset,omitzero"`
	Handle    Handle    `json:"handle"`
	LastError string    `json:"last_error,omitempty"`
	// Reconnects counts successful reconnects since creation.
	Reconnects int `json:"reconnects"`
}

// Machine is the session resilience state machine. Its methods are safe for
// concurrent use, but transitions are expected to come from one goroutine.
type Machine struct {
	cfg Config
	cmd Commander

	mu         sync.Mutex
	phase      Phase
	fallback   Phase
	attempt    int
	onset      time.Time
	handle     Handle
	lastErr    string
	reconnects int
}

// NewMachine returns a Machine in the Idle phase. cmd may be nil.
func NewMachine(cfg Config, cmd Commander) *Machine {
	return &Machine{cfg: cfg, cmd: cmd}
}

func (m *Machine) send(c Command) {
	if m.cmd != nil {
		m.cmd.Send(c)
	}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Snapshot returns a copy of the machine state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Phase:      m.phase,
		Fallback:   m.fallback,
		Attempt:    m.attempt,
		Onset:      m.onset,
		Handle:     m.handle,
		LastError:  m.lastErr,
		Reconnects: m.reconnects,
	}
}

// Connected records a successful (re)connect. Leaving a degraded cycle emits
// ResumeNormal. It reports whether the phase changed.
func (m *Machine) Connected(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.phase {
	case Closed, Connected:
		return false
	case Idle:
		m.phase = Connected
		return true
	}
	m.phase = Connected
	m.fallback = Idle
	m.attempt = 0
	m.onset = time.Time{}
	m.reconnects++
	m.send(ResumeNormal)
	return true
}

// Fail records a stream error or, when goAway is set, a remote-initiated
// termination. A healthy session enters DegradedHolding and BeginFallback is
// emitted; a session that is already degraded counts it as a failed
// reconnect. The returned delay is how long to wait before the next attempt.
func (m *Machine) Fail(now time.Time, cause error, goAway bool) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == Closed {
		return 0
	}
	if cause != nil {
		m.lastErr = cause.Error()
	}
	if m.phase == Idle || m.phase == Connected {
		m.phase = DegradedHolding
		m.fallback = DegradedHolding
		m.onset = now
		m.attempt = 0
		m.send(BeginFallback)
		m.tickLocked(now)
	}
	if goAway && m.attempt == 0 {
		return m.cfg.GoAwayDelay
	}
	return NextBackoff(m.cfg.Backoff, m.attempt+1, m.cfg.Rand)
}

// Tick advances time-driven transitions: once Hold has elapsed since the
// onset of degradation, holding turns into ramping. It reports whether the
// fallback sub-phase changed.
func (m *Machine) Tick(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickLocked(now)
}

func (m *Machine) tickLocked(now time.Time) bool {
	if m.fallback != DegradedHolding || now.Sub(m.onset) < m.cfg.Hold {
		return false
	}
	m.fallback = DegradedRamping
	if m.phase == DegradedHolding {
		m.phase = DegradedRamping
	}
	return true
}

// BeginReconnect marks a reconnect attempt as issued and returns the handle
// to present together with the 1-based attempt number. It returns ok=false
// outside degraded phases.
func (m *Machine) BeginReconnect(now time.Time) (h Handle, attempt int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.phase.Degraded() {
		return Handle{}, 0, false
	}
	m.tickLocked(now)
	m.phase = Reconnecting
	m.attempt++
	return m.handle, m.attempt, true
}

// ReconnectFailed records a failed attempt and returns the backoff delay
// before the next one. The delay after the initial failure is Initial, so
// attempt n is followed by the (n+1)th step of the schedule.
func (m *Machine) ReconnectFailed(now time.Time, err error) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == Closed {
		return 0
	}
	if err != nil {
		m.lastErr = err.Error()
	}
	m.tickLocked(now)
	return NextBackoff(m.cfg.Backoff, m.attempt+1, m.cfg.Rand)
}

// Handle returns the stored resumption handle.
func (m *Machine) Handle() Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// UpdateHandle stores h if it is newer than the stored handle and reports
// whether it did. Repeating an update is a no-op.
func (m *Machine) UpdateHandle(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !h.NewerThan(m.handle) {
		return false
	}
	m.handle = h
	return true
}

// RestoreHandle seeds the machine with a persisted handle. It is ignored
// unless the machine has no handle yet.
func (m *Machine) RestoreHandle(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle.IsZero() && !h.IsZero() {
		m.handle = h
	}
}

// Close moves the machine to the terminal Closed phase. Later transitions are
// ignored.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = Closed
	m.fallback = Idle
}
