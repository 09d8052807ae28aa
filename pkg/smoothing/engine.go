// Package smoothing turns step changes of control targets into continuous,
// rate-limited trajectories.
//
// An Engine is advanced by elapsed time, never by tick count: calling
// Advance once with dt or many times with pieces summing to dt yields the
// same trajectory. In normal mode every value approaches its target linearly
// at one full scale per Config.Ramp and never overshoots. In fallback mode
// values are frozen for Config.Hold and then fade linearly to the neutral
// value of their kind over Config.FallbackRamp, landing exactly on neutral.
//
// An Engine is not safe for concurrent use; it is owned by one goroutine.
package smoothing

import (
	"time"

	"github.com/haivivi/autodj/pkg/control"
)

// Default durations.
const (
	DefaultRamp         = 250 * time.Millisecond
	DefaultHold         = 2 * time.Second
	DefaultFallbackRamp = 1 * time.Second
)

// Config holds the engine time constants.
type Config struct {
	// Ramp is the time a full-scale move takes in normal mode. Zero makes
	// targets take effect immediately.
	Ramp time.Duration

	// Hold is how long values stay frozen after fallback begins.
	Hold time.Duration

	// FallbackRamp is the duration of the fade to neutral after Hold.
	FallbackRamp time.Duration
}

// DefaultConfig returns the default time constants.
func DefaultConfig() Config {
	return Config{
		Ramp:         DefaultRamp,
		Hold:         DefaultHold,
		FallbackRamp: DefaultFallbackRamp,
	}
}

// Mode is the engine operating mode.
type Mode int

const (
	Normal Mode = iota
	Fallback
)

func (m Mode) String() string {
	if m == Fallback {
		return "fallback"
	}
	return "normal"
}

// FallbackPhase describes progress through a fallback trajectory.
type FallbackPhase int

const (
	NotInFallback FallbackPhase = iota
	Holding
	Ramping
	AtNeutral
)

func (p FallbackPhase) String() string {
	switch p {
	case Holding:
		return "holding"
	case Ramping:
		return "ramping"
	case AtNeutral:
		return "neutral"
	default:
		return "none"
	}
}

// Track is the trajectory state of one target.
type Track struct {
	Emitted float64
	Target  float64

	// Raw is the most recent raw value behind Target and RawAt its arrival.
	Raw   float64
	RawAt time.Time

	// FallbackFrom is the emitted value when fallback began.
	FallbackFrom float64
}

// Engine advances the four target trajectories.
type Engine struct {
	cfg    Config
	mode   Mode
	tracks [len(control.Targets)]Track

	// elapsed is the time spent in the current fallback.
	elapsed time.Duration
	// freshDuringFallback records targets set while in fallback.
	freshDuringFallback bool
}

// New returns an Engine with every target at its neutral value.
func New(cfg Config) *Engine {
	if cfg.Ramp < 0 {
		cfg.Ramp = 0
	}
	if cfg.Hold < 0 {
		cfg.Hold = 0
	}
	if cfg.FallbackRamp < 0 {
		cfg.FallbackRamp = 0
	}
	e := &Engine{cfg: cfg}
	for _, t := range control.Targets {
		n := t.Kind().Neutral()
		e.tracks[t] = Track{Emitted: n, Target: n}
	}
	return e
}

// Config returns the engine time constants.
func (e *Engine) Config() Config {
	return e.cfg
}

// Mode returns the current mode.
func (e *Engine) Mode() Mode {
	return e.mode
}

// Phase returns the fallback phase, or NotInFallback in normal mode.
func (e *Engine) Phase() FallbackPhase {
	if e.mode != Fallback {
		return NotInFallback
	}
	switch {
	case e.elapsed < e.cfg.Hold:
		return Holding
	case e.elapsed < e.cfg.Hold+e.cfg.FallbackRamp:
		return Ramping
	default:
		return AtNeutral
	}
}

// Track returns a copy of the state of t.
func (e *Engine) Track(t control.Target) Track {
	return e.tracks[t]
}

// SetTargets installs new normalized targets and the raw frame behind them.
// In fallback mode the targets are recorded but do not move the output until
// ResumeNormal.
func (e *Engine) SetTargets(v control.Values, raw control.Frame, at time.Time) {
	for _, t := range control.Targets {
		tr := &e.tracks[t]
		tr.Target = v.At(t)
		tr.Raw = raw.At(t)
		tr.RawAt = at
	}
	if e.mode == Fallback {
		e.freshDuringFallback = true
	}
}

// Advance moves every trajectory forward by dt and returns the emitted values.
// Non-positive dt returns the current values unchanged.
func (e *Engine) Advance(dt time.Duration) control.Values {
	if dt > 0 {
		if e.mode == Fallback {
			e.advanceFallback(dt)
		} else {
			e.advanceNormal(dt)
		}
	}
	return e.Emitted()
}

func (e *Engine) advanceNormal(dt time.Duration) {
	step := e.MaxStep(dt)
	for i := range e.tracks {
		tr := &e.tracks[i]
		switch d := tr.Target - tr.Emitted; {
		case d > step:
			tr.Emitted += step
		case d < -step:
			tr.Emitted -= step
		default:
			tr.Emitted = tr.Target
		}
	}
}

func (e *Engine) advanceFallback(dt time.Duration) {
	e.elapsed += dt
	hold, ramp := e.cfg.Hold, e.cfg.FallbackRamp
	for _, t := range control.Targets {
		tr := &e.tracks[t]
		neutral := t.Kind().Neutral()
		switch {
		case e.elapsed <= hold:
			tr.Emitted = tr.FallbackFrom
		case e.elapsed >= hold+ramp:
			tr.Emitted = neutral
		default:
			alpha := float64(e.elapsed-hold) / float64(ramp)
			tr.Emitted = tr.FallbackFrom + (neutral-tr.FallbackFrom)*alpha
		}
	}
}

// MaxStep returns the largest normal-mode change of any value over dt.
func (e *Engine) MaxStep(dt time.Duration) float64 {
	if e.cfg.Ramp <= 0 {
		return 1
	}
	return float64(dt) / float64(e.cfg.Ramp)
}

// Emitted returns the current output values.
func (e *Engine) Emitted() control.Values {
	var v control.Values
	for _, t := range control.Targets {
		v.Set(t, e.tracks[t].Emitted)
	}
	return v
}

// Targets returns the active target values.
func (e *Engine) Targets() control.Values {
	var v control.Values
	for _, t := range control.Targets {
		v.Set(t, e.tracks[t].Target)
	}
	return v
}

// BeginFallback freezes the current values and starts the hold timer.
// It does nothing if the engine is already in fallback.
func (e *Engine) BeginFallback() {
	if e.mode == Fallback {
		return
	}
	e.mode = Fallback
	e.elapsed = 0
	e.freshDuringFallback = false
	for i := range e.tracks {
		e.tracks[i].FallbackFrom = e.tracks[i].Emitted
	}
}

// ResumeNormal leaves fallback and continues normal convergence from the
// current emitted values. Unless new targets arrived during fallback, the
// targets are set to the current values so nothing moves until fresh intent
// arrives.
func (e *Engine) ResumeNormal() {
	if e.mode != Fallback {
		return
	}
	e.mode = Normal
	if !e.freshDuringFallback {
		for i := range e.tracks {
			e.tracks[i].Target = e.tracks[i].Emitted
		}
	}
	e.elapsed = 0
	e.freshDuringFallback = false
}

// ForceNeutral sets every value and target to neutral immediately.
func (e *Engine) ForceNeutral() control.Values {
	e.mode = Normal
	e.elapsed = 0
	e.freshDuringFallback = false
	for _, t := range control.Targets {
		n := t.Kind().Neutral()
		tr := &e.tracks[t]
		tr.Emitted = n
		tr.Target = n
		tr.FallbackFrom = n
	}
	return e.Emitted()
}
