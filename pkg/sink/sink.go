// Package sink delivers smoothed control values to the audio host.
//
// The coordinator hands one Batch per output tick to a Sink. Sinks must not
// reject well-formed values and should return quickly; a slow sink delays
// the next tick.
package sink

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/haivivi/autodj/pkg/control"
)

// Batch is one tick worth of values.
type Batch struct {
	Values control.Values
	// Seq is the sequence number of the raw frame behind the targets.
	Seq uint64
	At  time.Time
	// Final marks the neutral flush sent on shutdown.
	Final bool
}

// Sink applies batches.
type Sink interface {
	Apply(ctx context.Context, b Batch) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, b Batch) error

// Apply calls f.
func (f Func) Apply(ctx context.Context, b Batch) error { return f(ctx, b) }

// Multi fans a batch out to every sink. All sinks see every batch; errors are
// joined.
type Multi []Sink

// Apply implements Sink.
func (m Multi) Apply(ctx context.Context, b Batch) error {
	var errs []error
	for _, s := range m {
		if err := s.Apply(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every batch.
var Discard Sink = Func(func(context.Context, Batch) error { return nil })

// changeEpsilon is the smallest difference treated as a change by sinks that
// only report changes.
const changeEpsilon = 1e-4

func changed(a, b control.Values) bool {
	for _, t := range control.Targets {
		if math.Abs(a.At(t)-b.At(t)) > changeEpsilon {
			return true
		}
	}
	return false
}
