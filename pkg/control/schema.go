package control

import (
	"github.com/google/jsonschema-go/jsonschema"
)

// FunctionDescription is the tool description presented to the model.
const FunctionDescription = "Set all four DJ macro controls in bipolar range [-1.0, 1.0]. 0.0 means neutral."

var fieldDescriptions = [numTargets]string{
	FilterMacro:     "Filter sweep. Negative closes a low-pass, positive opens a high-pass.",
	BeatRepeatMacro: "Beat repeat / stutter amount. Values at or below 0 mean off.",
	ReverbMacro:     "Reverb send. Values at or below 0 mean dry.",
	EqLowMacro:      "Low EQ. Negative cuts bass, positive boosts bass.",
}

// Schema returns the closed JSON schema of the tool arguments.
func Schema() *jsonschema.Schema {
	lo, hi := -1.0, 1.0
	props := make(map[string]*jsonschema.Schema, numTargets)
	required := make([]string, 0, numTargets)
	for _, t := range Targets {
		props[t.String()] = &jsonschema.Schema{
			Type:        "number",
			Description: fieldDescriptions[t],
			Minimum:     &lo,
			Maximum:     &hi,
		}
		required = append(required, t.String())
	}
	return &jsonschema.Schema{
		Type:                 "object",
		Description:          FunctionDescription,
		Properties:           props,
		Required:             required,
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}
