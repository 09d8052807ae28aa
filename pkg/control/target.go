package control

import (
	"encoding/json"
	"fmt"
)

// Target identifies one of the four macro controls.
type Target int

const (
	FilterMacro Target = iota
	BeatRepeatMacro
	ReverbMacro
	EqLowMacro

	numTargets
)

// Targets lists every target in wire order.
var Targets = [numTargets]Target{FilterMacro, BeatRepeatMacro, ReverbMacro, EqLowMacro}

// String returns the wire name of the target.
func (t Target) String() string {
	switch t {
	case FilterMacro:
		return "filter_macro"
	case BeatRepeatMacro:
		return "beat_repeat_macro"
	case ReverbMacro:
		return "reverb_macro"
	case EqLowMacro:
		return "eq_low_macro"
	default:
		return fmt.Sprintf("target(%d)", int(t))
	}
}

// Kind returns the mapping kind of the target.
func (t Target) Kind() Kind {
	switch t {
	case BeatRepeatMacro, ReverbMacro:
		return OneSided
	default:
		return Symmetric
	}
}

// Valid reports whether t is one of the four known targets.
func (t Target) Valid() bool {
	return t >= 0 && t < numTargets
}

// ParseTarget resolves a wire name. Aliases are not accepted.
func ParseTarget(name string) (Target, bool) {
	for _, t := range Targets {
		if t.String() == name {
			return t, true
		}
	}
	return 0, false
}

// MarshalJSON implements json.Marshaler.
func (t Target) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Target) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	v, ok := ParseTarget(name)
	if !ok {
		return fmt.Errorf("%w: unknown target %q", ErrUnknownTarget, name)
	}
	*t = v
	return nil
}

// Kind selects how a raw bipolar value maps into [0, 1].
type Kind int

const (
	// Symmetric maps [-1, 1] linearly onto [0, 1] with neutral 0.5.
	Symmetric Kind = iota
	// OneSided maps negative values to 0 and keeps positive values, neutral 0.
	OneSided
)

func (k Kind) String() string {
	switch k {
	case Symmetric:
		return "symmetric"
	case OneSided:
		return "one_sided"
	default:
		return "unknown"
	}
}

// Neutral returns the value emitted for no intent.
func (k Kind) Neutral() float64 {
	if k == Symmetric {
		return 0.5
	}
	return 0
}
