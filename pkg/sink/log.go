package sink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/haivivi/autodj/pkg/control"
)

// Log writes batches to a slog.Logger. Only batches that differ from the
// previously logged one are written, plus the final flush.
type Log struct {
	l     *slog.Logger
	level slog.Level

	mu   sync.Mutex
	last *control.Values
}

// NewLog returns a Log sink writing at level. A nil logger uses
// slog.Default().
func NewLog(l *slog.Logger, level slog.Level) *Log {
	if l == nil {
		l = slog.Default()
	}
	return &Log{l: l, level: level}
}

// Apply implements Sink.
func (s *Log) Apply(ctx context.Context, b Batch) error {
	s.mu.Lock()
	skip := s.last != nil && !b.Final && !changed(*s.last, b.Values)
	if !skip {
		v := b.Values
		s.last = &v
	}
	s.mu.Unlock()
	if skip {
		return nil
	}
	s.l.Log(ctx, s.level, "controls",
		"filter", round(b.Values.Filter),
		"beat_repeat", round(b.Values.BeatRepeat),
		"reverb", round(b.Values.Reverb),
		"eq_low", round(b.Values.EqLow),
		"seq", b.Seq,
		"final", b.Final,
	)
	return nil
}

func round(x float64) float64 {
	return float64(int64(x*1000+0.5)) / 1000
}
