package coordinator

import (
	"context"
	"time"

	"github.com/haivivi/autodj/pkg/resilience"
	"github.com/haivivi/autodj/pkg/sink"
)

func (c *Coordinator) outputLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.Tick)
	defer ticker.Stop()
	c.lastTick = c.opts.Now()
	for {
		select {
		case <-ctx.Done():
			c.flush(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			c.tick(ctx, c.opts.Now())
		}
	}
}

// tick runs one output step at now: it applies pending machine commands,
// picks up a newly committed snapshot, advances the engine by the elapsed
// time and hands the result to the sink.
func (c *Coordinator) tick(ctx context.Context, now time.Time) sink.Batch {
	start := time.Now()
	c.drainCommands()

	s := c.snap.Load()
	if s.Seq != c.lastSeq {
		c.engine.SetTargets(s.Targets, s.Raw, s.At)
		c.lastSeq = s.Seq
	}
	dt := now.Sub(c.lastTick)
	c.lastTick = now

	b := sink.Batch{Values: c.engine.Advance(dt), Seq: s.Seq, At: now}
	c.emit(ctx, b)
	c.opts.Metrics.Tick(time.Since(start))
	return b
}

func (c *Coordinator) drainCommands() {
	for {
		select {
		case cmd := <-c.cmds:
			switch cmd {
			case resilience.BeginFallback:
				c.engine.BeginFallback()
			case resilience.ResumeNormal:
				c.engine.ResumeNormal()
			}
			c.log.Debug("smoothing command", "command", cmd)
		default:
			return
		}
	}
}

func (c *Coordinator) emit(ctx context.Context, b sink.Batch) {
	c.emitted.Store(&b)
	c.opts.Metrics.Emitted(b.Values)
	err := c.opts.Sink.Apply(ctx, b)
	if err == nil {
		c.sinkErr = ""
		return
	}
	c.opts.Metrics.SinkError()
	// Repeats of the same failure are only logged at debug level.
	if msg := err.Error(); msg != c.sinkErr || b.Final {
		c.sinkErr = msg
		c.log.Warn("sink apply", "seq", b.Seq, "final", b.Final, "error", err)
		return
	}
	c.log.Debug("sink apply", "seq", b.Seq, "error", err)
}

// flush forces every target to neutral and emits one final batch. ctx must
// not be cancelled already; the flush gets its own timeout.
func (c *Coordinator) flush(ctx context.Context) sink.Batch {
	ctx, cancel := context.WithTimeout(ctx, c.opts.FlushTimeout)
	defer cancel()
	b := sink.Batch{
		Values: c.engine.ForceNeutral(),
		Seq:    c.snap.Load().Seq,
		At:     c.opts.Now(),
		Final:  true,
	}
	c.emit(ctx, b)
	c.log.Info("flushed neutral values")
	return b
}
