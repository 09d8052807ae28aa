package sink

import (
	"fmt"
	"math"

	"github.com/haivivi/autodj/pkg/control"
)

// Range maps a normalized value onto a device parameter range.
type Range struct {
	Min    float64 `json:"min" yaml:"min" msgpack:"min"`
	Max    float64 `json:"max" yaml:"max" msgpack:"max"`
	Invert bool    `json:"invert,omitempty" yaml:"invert,omitempty" msgpack:"invert,omitempty"`
}

// UnitRange is the identity mapping.
var UnitRange = Range{Min: 0, Max: 1}

// Abs returns the absolute parameter value for normalized n. n is clamped to
// [0,1] first.
func (r Range) Abs(n float64) float64 {
	n = unit(n)
	if r.Invert {
		n = 1 - n
	}
	return r.Min + (r.Max-r.Min)*n
}

// Norm is the inverse of Abs. A degenerate range maps everything to 0.
func (r Range) Norm(abs float64) float64 {
	if r.Max == r.Min {
		return 0
	}
	n := unit((abs - r.Min) / (r.Max - r.Min))
	if r.Invert {
		n = 1 - n
	}
	return n
}

// Ranges holds one Range per target. Missing entries use UnitRange.
type Ranges map[string]Range

// Validate rejects entries that do not name a target.
func (rs Ranges) Validate() error {
	for name := range rs {
		if _, ok := control.ParseTarget(name); !ok {
			return fmt.Errorf("sink: range for %q: %w", name, control.ErrUnknownTarget)
		}
	}
	return nil
}

// Of returns the range for t.
func (rs Ranges) Of(t control.Target) Range {
	if r, ok := rs[t.String()]; ok {
		return r
	}
	return UnitRange
}

// Apply maps every value of v onto its range, keyed by target name.
func (rs Ranges) Apply(v control.Values) map[string]float64 {
	out := make(map[string]float64, len(control.Targets))
	for _, t := range control.Targets {
		out[t.String()] = rs.Of(t).Abs(v.At(t))
	}
	return out
}

func unit(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return min(max(x, 0), 1)
}
