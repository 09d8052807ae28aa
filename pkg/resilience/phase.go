package resilience

import "encoding/json"

// Phase is the connection phase tracked by a Machine.
type Phase int

const (
	Idle Phase = iota
	Connected
	DegradedHolding
	DegradedRamping
	Reconnecting
	Closed
)

// Phases lists every phase in order.
var Phases = []Phase{Idle, Connected, DegradedHolding, DegradedRamping, Reconnecting, Closed}

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Connected:
		return "connected"
	case DegradedHolding:
		return "degraded_holding"
	case DegradedRamping:
		return "degraded_ramping"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Degraded reports whether the fallback trajectory is active in p.
func (p Phase) Degraded() bool {
	return p == DegradedHolding || p == DegradedRamping || p == Reconnecting
}

// MarshalJSON implements json.Marshaler.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// Command is an instruction from the machine to the smoothing engine.
type Command int

const (
	BeginFallback Command = iota + 1
	ResumeNormal
)

func (c Command) String() string {
	switch c {
	case BeginFallback:
		return "begin_fallback"
	case ResumeNormal:
		return "resume_normal"
	default:
		return "unknown"
	}
}

// Commander receives machine commands.
type Commander interface {
	Send(Command)
}

// CommanderFunc adapts a function to Commander.
type CommanderFunc func(Command)

// Send calls f(c).
func (f CommanderFunc) Send(c Command) { f(c) }
