package control

// Frame is one complete set of raw intent values, each in [-1, 1].
// Frames always carry all four targets; there is no partial frame.
type Frame struct {
	Filter     float64 `json:"filter_macro" msgpack:"filter_macro"`
	BeatRepeat float64 `json:"beat_repeat_macro" msgpack:"beat_repeat_macro"`
	Reverb     float64 `json:"reverb_macro" msgpack:"reverb_macro"`
	EqLow      float64 `json:"eq_low_macro" msgpack:"eq_low_macro"`
}

// At returns the raw value of t.
func (f Frame) At(t Target) float64 {
	switch t {
	case FilterMacro:
		return f.Filter
	case BeatRepeatMacro:
		return f.BeatRepeat
	case ReverbMacro:
		return f.Reverb
	case EqLowMacro:
		return f.EqLow
	}
	return 0
}

// Set assigns the raw value of t. Unknown targets are ignored.
func (f *Frame) Set(t Target, v float64) {
	switch t {
	case FilterMacro:
		f.Filter = v
	case BeatRepeatMacro:
		f.BeatRepeat = v
	case ReverbMacro:
		f.Reverb = v
	case EqLowMacro:
		f.EqLow = v
	}
}

// Map returns the frame keyed by wire name.
func (f Frame) Map() map[string]float64 {
	m := make(map[string]float64, numTargets)
	for _, t := range Targets {
		m[t.String()] = f.At(t)
	}
	return m
}

// Values is one complete set of normalized values, each in [0, 1].
type Values struct {
	Filter     float64 `json:"filter_macro" msgpack:"filter_macro"`
	BeatRepeat float64 `json:"beat_repeat_macro" msgpack:"beat_repeat_macro"`
	Reverb     float64 `json:"reverb_macro" msgpack:"reverb_macro"`
	EqLow      float64 `json:"eq_low_macro" msgpack:"eq_low_macro"`
}

// Neutral returns the values for no intent: 0.5 for symmetric targets and 0
// for one-sided targets.
func Neutral() Values {
	var v Values
	for _, t := range Targets {
		v.Set(t, t.Kind().Neutral())
	}
	return v
}

// At returns the value of t.
func (v Values) At(t Target) float64 {
	return Frame(v).At(t)
}

// Set assigns the value of t. Unknown targets are ignored.
func (v *Values) Set(t Target, x float64) {
	(*Frame)(v).Set(t, x)
}

// Map returns the values keyed by wire name.
func (v Values) Map() map[string]float64 {
	return Frame(v).Map()
}
