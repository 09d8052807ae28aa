package coordinator

import (
	"context"
	"time"

	"github.com/haivivi/autodj/pkg/inference"
	"github.com/haivivi/autodj/pkg/resilience"
)

// monitorLoop owns the machine transitions and the connection lifecycle.
func (c *Coordinator) monitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.Tick)
	defer ticker.Stop()

	var heartbeat <-chan time.Time
	if c.opts.Heartbeat > 0 {
		hb := time.NewTicker(c.opts.Heartbeat)
		defer hb.Stop()
		heartbeat = hb.C
	}

	var (
		active   inference.Conn
		prompted bool
		dial     = time.NewTimer(0)
	)
	defer dial.Stop()
	defer func() {
		c.machine.Close()
		c.opts.Metrics.Phase(resilience.Closed)
		c.setActive(nil)
		if active != nil {
			active.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-dial.C:
			conn, delay := c.connect(ctx)
			if conn == nil {
				if ctx.Err() != nil {
					return nil
				}
				dial.Reset(delay)
				continue
			}
			active = conn
			c.setActive(conn)
			select {
			case c.conns <- conn:
			case <-ctx.Done():
				return nil
			}
			if !prompted && c.opts.Prompt != "" {
				if err := conn.SendText(ctx, c.opts.Prompt); err != nil {
					c.log.Warn("send prompt", "error", err)
				} else {
					prompted = true
				}
			}

		case s := <-c.signals:
			if s.handle != nil {
				c.storeHandle(ctx, *s.handle)
			}
			if s.err == nil || s.conn != active {
				continue
			}
			active.Close()
			active = nil
			c.setActive(nil)
			now := c.opts.Now()
			delay := c.machine.Fail(now, s.err, s.goAway)
			c.opts.Metrics.Phase(c.machine.Phase())
			c.log.Warn("session degraded", "error", s.err, "go_away", s.goAway, "retry_in", delay)
			dial.Reset(delay)

		case <-ticker.C:
			if c.machine.Tick(c.opts.Now()) {
				c.opts.Metrics.Phase(c.machine.Phase())
				c.log.Info("fallback ramping to neutral")
			}

		case <-heartbeat:
			c.logStatus()
		}
	}
}

// connect dials once. On failure it returns the delay before the next try.
func (c *Coordinator) connect(ctx context.Context) (inference.Conn, time.Duration) {
	now := c.opts.Now()
	first := c.machine.Phase() == resilience.Idle
	handle, attempt := c.machine.Handle(), 0
	if !first {
		var ok bool
		if handle, attempt, ok = c.machine.BeginReconnect(now); !ok {
			return nil, c.opts.Tick
		}
		c.opts.Metrics.Phase(resilience.Reconnecting)
	}

	dctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	conn, err := c.opts.Dialer.Dial(dctx, inference.Resume{Token: handle.Token, Seq: handle.Seq})
	cancel()
	now = c.opts.Now()
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0
		}
		c.opts.Metrics.DialError()
		var delay time.Duration
		if first {
			delay = c.machine.Fail(now, err, false)
		} else {
			delay = c.machine.ReconnectFailed(now, err)
		}
		c.opts.Metrics.Phase(c.machine.Phase())
		c.log.Warn("dial failed", "attempt", attempt, "error", err, "retry_in", delay)
		return nil, delay
	}

	if c.machine.Connected(now) && !first {
		c.opts.Metrics.Reconnect()
	}
	c.opts.Metrics.Phase(c.machine.Phase())
	c.log.Info("session connected", "conn", conn.ID(), "attempt", attempt, "resumed", !handle.IsZero())
	return conn, 0
}

// storeHandle keeps h when it is newer than the stored handle and persists
// it.
func (c *Coordinator) storeHandle(ctx context.Context, h resilience.Handle) {
	if !c.machine.UpdateHandle(h) {
		return
	}
	c.opts.Metrics.Handle()
	if err := c.opts.Handles.Save(ctx, h); err != nil {
		c.log.Warn("save resumption handle", "error", err)
	}
}

func (c *Coordinator) logStatus() {
	st := c.Status()
	text := st.LastText
	if r := []rune(text); len(r) > 80 {
		text = string(r[:80]) + "..."
	}
	c.log.Info("heartbeat",
		"phase", st.Phase,
		"attempt", st.Attempt,
		"has_handle", st.HasHandle,
		"seq", st.Seq,
		"text", text,
		"last_error", st.LastError,
	)
}
