package coordinator

import (
	"context"
	"errors"

	"github.com/haivivi/autodj/pkg/control"
	"github.com/haivivi/autodj/pkg/inference"
	"github.com/haivivi/autodj/pkg/resilience"
)

// signal reports something learned from a connection to the monitor.
type signal struct {
	conn   inference.Conn
	handle *resilience.Handle
	// err ends the connection. goAway marks a remote-initiated end.
	err    error
	goAway bool
}

var errRemoteClosed = errors.New("coordinator: session closed by remote")

func (c *Coordinator) ingestLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case conn := <-c.conns:
			c.ingest(ctx, conn)
		}
	}
}

// ingest reads conn until it fails, the remote asks to go away or ctx is
// done.
func (c *Coordinator) ingest(ctx context.Context, conn inference.Conn) {
	for {
		ev, err := conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if inference.IsClean(err) {
				err = errRemoteClosed
			}
			c.signal(ctx, signal{conn: conn, err: err})
			return
		}
		c.handleEvent(ctx, conn, ev)
		if ev.GoAway {
			c.signal(ctx, signal{conn: conn, err: errors.New("coordinator: go away"), goAway: true})
			return
		}
	}
}

func (c *Coordinator) signal(ctx context.Context, s signal) {
	select {
	case c.signals <- s:
	case <-ctx.Done():
	}
}

func (c *Coordinator) handleEvent(ctx context.Context, conn inference.Conn, ev *inference.Event) {
	if len(ev.Calls) > 0 {
		results := make([]inference.ToolResult, 0, len(ev.Calls))
		for _, call := range ev.Calls {
			results = append(results, c.handleCall(call))
		}
		if err := conn.Respond(ctx, results); err != nil && ctx.Err() == nil {
			c.log.Warn("send tool response", "conn", conn.ID(), "error", err)
		}
	}
	if ev.Handle != nil {
		c.signal(ctx, signal{conn: conn, handle: &resilience.Handle{Token: ev.Handle.Token, Seq: ev.Handle.Seq}})
	}
	if ev.Text != "" {
		c.mu.Lock()
		c.lastText = ev.Text
		c.mu.Unlock()
		c.log.Debug("model text", "text", ev.Text)
	}
}

// handleCall validates one tool call and commits its frame. Rejected calls
// leave the committed state untouched.
func (c *Coordinator) handleCall(call inference.ToolCall) inference.ToolResult {
	parsed, err := control.Parse(call.Name, call.Args)
	if err != nil {
		reason, code := "invalid", err.Error()
		var ae *control.ArgsError
		if errors.As(err, &ae) {
			reason, code = ae.Reason, ae.Code()
		}
		c.opts.Metrics.SchemaError(reason)
		c.log.Warn("rejected tool call", "function", call.Name, "reason", code)
		return inference.Rejected(call, code)
	}
	if len(parsed.Clamped) > 0 {
		c.log.Debug("clamped raw values", "targets", parsed.Clamped)
	}
	c.opts.Metrics.Frame(parsed.Clamped)
	s := c.commit(parsed.Frame)
	return inference.Accepted(call, s.Raw.Map())
}

// commit applies the policy to frame and atomically replaces the committed
// snapshot. Only the ingestion loop calls commit.
func (c *Coordinator) commit(frame control.Frame) *snapshot {
	prev := c.snap.Load()
	raw := c.opts.Policy(prev.Raw, frame)
	s := &snapshot{
		Raw:     raw,
		Targets: c.contract.NormalizeFrame(raw),
		Seq:     prev.Seq + 1,
		At:      c.opts.Now(),
	}
	c.snap.Store(s)
	return s
}
