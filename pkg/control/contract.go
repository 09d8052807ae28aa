package control

import "math"

// DefaultDeadzone is the magnitude under which a raw value counts as neutral.
const DefaultDeadzone = 0.05

// Contract holds the tunables of the raw to normalized mapping.
type Contract struct {
	// Deadzone is compared against the clamped raw magnitude. Values strictly
	// below it are neutral. Zero disables the deadzone.
	Deadzone float64
}

// DefaultContract returns a Contract with DefaultDeadzone.
func DefaultContract() Contract {
	return Contract{Deadzone: DefaultDeadzone}
}

// Normalize maps raw into [0, 1] for the given kind using DefaultDeadzone.
func Normalize(raw float64, kind Kind) float64 {
	return DefaultContract().Normalize(raw, kind)
}

// Normalize maps raw into [0, 1] for the given kind.
//
// NaN is treated as no intent.
func (c Contract) Normalize(raw float64, kind Kind) float64 {
	x := Clamp(raw)
	if math.Abs(x) < c.Deadzone {
		return kind.Neutral()
	}
	switch kind {
	case OneSided:
		if x < 0 {
			return 0
		}
		return x
	default:
		return (x + 1) / 2
	}
}

// NormalizeFrame maps every target of f.
func (c Contract) NormalizeFrame(f Frame) Values {
	var v Values
	for _, t := range Targets {
		v.Set(t, c.Normalize(f.At(t), t.Kind()))
	}
	return v
}

// Clamp limits x to [-1, 1]. NaN becomes 0.
func Clamp(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x < -1:
		return -1
	case x > 1:
		return 1
	}
	return x
}
