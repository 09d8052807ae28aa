// Package control defines the four macro controls driven by the inference
// session and the pure mapping from raw bipolar intent values to the unipolar
// values handed to the audio host.
//
// Raw values live in [-1, 1]. After clamping, values whose magnitude is below
// the deadzone collapse to the neutral value of their kind:
//
//	symmetric  (filter, eq_low):       (x+1)/2, neutral 0.5
//	one-sided  (beat_repeat, reverb):  max(x, 0), neutral 0.0
//
// Tool arguments arriving from the model are parsed against a closed schema
// with ParseArgs: all four fields must be present, no other field is
// accepted, and every value must be a finite number. Out of range numbers are
// clamped rather than rejected.
//
// Example:
//
//	frame, err := control.ParseArgs(call.Name, call.Args)
//	if err != nil {
//	    return err // wraps control.ErrSchema
//	}
//	values := control.DefaultContract().NormalizeFrame(frame)
package control
