package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// FunctionName is the only tool call the contract accepts.
const FunctionName = "set_macro_controls"

// Sentinel errors.
var (
	// ErrSchema is wrapped by every tool argument validation failure.
	ErrSchema = errors.New("control: schema violation")

	// ErrUnknownTarget is returned for target names outside the fixed set.
	ErrUnknownTarget = errors.New("control: unknown target")
)

// Reasons reported in ArgsError.Reason. They are sent back to the model in
// tool responses so it can correct the next call.
const (
	ReasonUnsupportedFunction = "unsupported_function"
	ReasonEmptyPayload        = "empty_payload"
	ReasonUnknownFields       = "unknown_fields"
	ReasonMissingFields       = "missing_fields"
	ReasonNotNumber           = "not_number"
)

// ArgsError describes why a tool call was rejected. It matches ErrSchema
// under errors.Is.
type ArgsError struct {
	Reason   string
	Function string
	Fields   []string
	// Hints maps an unknown field to the closest valid field.
	Hints map[string]string
}

// Code returns the compact form used in tool responses, for example
// "invalid_args:missing_fields:eq_low_macro".
func (e *ArgsError) Code() string {
	if e.Reason == ReasonUnsupportedFunction {
		return ReasonUnsupportedFunction + ":" + e.Function
	}
	code := "invalid_args:" + e.Reason
	if len(e.Fields) > 0 {
		code += ":" + strings.Join(e.Fields, ",")
	}
	if len(e.Hints) > 0 {
		var hints []string
		for _, f := range e.Fields {
			if h, ok := e.Hints[f]; ok {
				hints = append(hints, f+"->"+h)
			}
		}
		code += " (did you mean " + strings.Join(hints, ", ") + ")"
	}
	return code
}

func (e *ArgsError) Error() string {
	return "control: " + e.Code()
}

func (e *ArgsError) Unwrap() error {
	return ErrSchema
}

// Parsed is the result of a successful Parse.
type Parsed struct {
	Frame Frame
	// Clamped lists the targets whose value was outside [-1, 1].
	Clamped []Target
}

// ParseArgs validates a tool call and returns the clamped frame.
func ParseArgs(name string, args map[string]any) (Frame, error) {
	p, err := Parse(name, args)
	if err != nil {
		return Frame{}, err
	}
	return p.Frame, nil
}

// Parse validates a tool call against the closed schema: the function must be
// FunctionName, all four fields must be present, no other fields may appear
// and every value must be a finite number.
func Parse(name string, args map[string]any) (*Parsed, error) {
	if name != FunctionName {
		return nil, &ArgsError{Reason: ReasonUnsupportedFunction, Function: name}
	}
	if len(args) == 0 {
		return nil, &ArgsError{Reason: ReasonEmptyPayload, Function: name}
	}

	var unknown []string
	for key := range args {
		if _, ok := ParseTarget(key); !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &ArgsError{
			Reason:   ReasonUnknownFields,
			Function: name,
			Fields:   unknown,
			Hints:    suggest(unknown),
		}
	}

	var (
		p         Parsed
		missing   []string
		notNumber []string
	)
	for _, t := range Targets {
		raw, ok := args[t.String()]
		if !ok {
			missing = append(missing, t.String())
			continue
		}
		x, ok := toFloat(raw)
		if !ok {
			notNumber = append(notNumber, t.String())
			continue
		}
		if x < -1 || x > 1 {
			p.Clamped = append(p.Clamped, t)
		}
		p.Frame.Set(t, Clamp(x))
	}
	if len(notNumber) > 0 {
		return nil, &ArgsError{Reason: ReasonNotNumber, Function: name, Fields: notNumber}
	}
	if len(missing) > 0 {
		return nil, &ArgsError{Reason: ReasonMissingFields, Function: name, Fields: missing}
	}
	return &p, nil
}

// ParseJSON parses a JSON object of tool arguments.
func ParseJSON(name string, data []byte) (Frame, error) {
	var args map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return ParseArgs(name, args)
}

func toFloat(v any) (float64, bool) {
	var x float64
	switch n := v.(type) {
	case float64:
		x = n
	case float32:
		x = float64(n)
	case int:
		x = float64(n)
	case int32:
		x = float64(n)
	case int64:
		x = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		x = f
	default:
		return 0, false
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, false
	}
	return x, true
}

// aliases are names models tend to produce for the macro fields. They are
// only used to suggest the right name, never accepted.
var aliases = map[string]Target{
	"filter":        FilterMacro,
	"filter_cutoff": FilterMacro,
	"beat_repeat":   BeatRepeatMacro,
	"beatrepeat":    BeatRepeatMacro,
	"repeat":        BeatRepeatMacro,
	"stutter":       BeatRepeatMacro,
	"glitch":        BeatRepeatMacro,
	"delay":         BeatRepeatMacro,
	"reverb":        ReverbMacro,
	"room":          ReverbMacro,
	"eq_low":        EqLowMacro,
	"low_eq":        EqLowMacro,
	"bass":          EqLowMacro,
	"low":           EqLowMacro,
}

// maxSuggestDistance bounds edit-distance suggestions.
const maxSuggestDistance = 4

func suggest(unknown []string) map[string]string {
	hints := make(map[string]string)
	for _, key := range unknown {
		norm := strings.ToLower(strings.TrimSpace(key))
		if t, ok := aliases[norm]; ok {
			hints[key] = t.String()
			continue
		}
		best, bestDist := "", maxSuggestDistance+1
		for _, t := range Targets {
			if d := levenshtein.ComputeDistance(norm, t.String()); d < bestDist {
				best, bestDist = t.String(), d
			}
		}
		if best != "" {
			hints[key] = best
		}
	}
	if len(hints) == 0 {
		return nil
	}
	return hints
}
