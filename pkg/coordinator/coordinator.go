// Package coordinator runs the control pipeline: it ingests tool calls from
// the inference session, ticks the smoothing engine at a fixed rate and keeps
// the session alive.
//
// Three loops run concurrently under one errgroup:
//
//   - ingestion receives events from the active connection, validates tool
//     calls and commits complete frames by atomic pointer swap;
//   - output ticks the smoothing engine and hands one batch per tick to the
//     sink. It is the only owner of the engine;
//   - monitor dials, reconnects with the stored resumption handle and drives
//     the resilience machine. It is the only writer of the machine phase.
//
// The machine's fallback commands reach the output loop through a buffered
// channel, so neither the machine nor the monitor ever waits on a tick.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/haivivi/autodj/pkg/control"
	"github.com/haivivi/autodj/pkg/inference"
	"github.com/haivivi/autodj/pkg/metrics"
	"github.com/haivivi/autodj/pkg/resilience"
	"github.com/haivivi/autodj/pkg/sink"
	"github.com/haivivi/autodj/pkg/smoothing"
)

// Defaults.
const (
	DefaultTick         = 50 * time.Millisecond
	DefaultHeartbeat    = 2 * time.Second
	DefaultDialTimeout  = 10 * time.Second
	DefaultFlushTimeout = time.Second
)

// ErrNotConnected is returned by SendAudio and SendText while no session is
// active.
var ErrNotConnected = errors.New("coordinator: not connected")

// Options configures a Coordinator. Dialer and Sink are required.
type Options struct {
	Dialer inference.Dialer
	Sink   sink.Sink

	// Smoothing and Resilience use their defaults when left zero. A zero
	// Resilience.Hold follows Smoothing.Hold.
	Smoothing  smoothing.Config
	Resilience resilience.Config

	// Tick is the output interval. Defaults to DefaultTick.
	Tick time.Duration
	// Heartbeat is the status log interval. Zero uses DefaultHeartbeat and a
	// negative value disables it.
	Heartbeat    time.Duration
	DialTimeout  time.Duration
	FlushTimeout time.Duration

	// Contract maps raw values to normalized ones. Nil uses the default
	// deadzone.
	Contract *control.Contract
	// Policy combines a new frame with the committed one. Nil is
	// control.Replace.
	Policy control.Policy

	// Handles persists resumption handles. Nil keeps them in memory.
	Handles resilience.HandleStore
	// Prompt is sent as a user turn after the first connect.
	Prompt string

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// snapshot is one committed frame with its normalized targets. Snapshots are
// immutable once stored.
type snapshot struct {
	Raw     control.Frame
	Targets control.Values
	Seq     uint64
	At      time.Time
}

// Status is a read-only view for heartbeat logging and the CLI.
type Status struct {
	RunID      string           `json:"run_id"`
	Phase      resilience.Phase `json:"phase"`
	Fallback   resilience.Phase `json:"fallback"`
	Attempt    int              `json:"attempt"`
	HasHandle  bool             `json:"has_handle"`
	Reconnects int              `json:"reconnects"`
	Seq        uint64           `json:"seq"`
	Values     control.Values   `json:"values"`
	LastText   string           `json:"last_text,omitempty"`
	LastError  string           `json:"last_error,omitempty"`
}

// Coordinator owns the shared state of one run.
type Coordinator struct {
	opts     Options
	contract control.Contract
	log      *slog.Logger
	runID    string

	machine *resilience.Machine
	engine  *smoothing.Engine
	cmds    chan resilience.Command

	snap    atomic.Pointer[snapshot]
	emitted atomic.Pointer[sink.Batch]

	// conns carries connections from the monitor to ingestion; signals
	// carries what ingestion learned back to the monitor.
	conns   chan inference.Conn
	signals chan signal

	mu       sync.Mutex
	active   inference.Conn
	lastText string

	// output loop state
	lastTick time.Time
	lastSeq  uint64
	sinkErr  string
}

// New returns a Coordinator. It does not start anything.
func New(opts Options) (*Coordinator, error) {
	if opts.Dialer == nil {
		return nil, errors.New("coordinator: dialer is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("coordinator: sink is required")
	}
	if opts.Smoothing == (smoothing.Config{}) {
		opts.Smoothing = smoothing.DefaultConfig()
	}
	if opts.Resilience == (resilience.Config{}) {
		opts.Resilience = resilience.DefaultConfig()
		opts.Resilience.Hold = 0
	}
	if opts.Resilience.Hold == 0 {
		opts.Resilience.Hold = opts.Smoothing.Hold
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Heartbeat == 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = DefaultFlushTimeout
	}
	if opts.Policy == nil {
		opts.Policy = control.Replace
	}
	if opts.Handles == nil {
		opts.Handles = &resilience.MemoryHandleStore{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	contract := control.DefaultContract()
	if opts.Contract != nil {
		contract = *opts.Contract
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.NewString()

	c := &Coordinator{
		opts:     opts,
		contract: contract,
		log:      logger.With("run", runID),
		runID:    runID,
		engine:   smoothing.New(opts.Smoothing),
		cmds:     make(chan resilience.Command, 8),
		conns:    make(chan inference.Conn, 1),
		signals:  make(chan signal, 16),
	}
	c.machine = resilience.NewMachine(opts.Resilience, resilience.CommanderFunc(c.command))
	c.snap.Store(&snapshot{Raw: control.Frame{}, Targets: control.Neutral()})
	return c, nil
}

// RunID identifies this run in logs.
func (c *Coordinator) RunID() string { return c.runID }

// command queues a machine command for the output loop. It never blocks: when
// the queue is full the oldest command is dropped, since only the latest
// fallback instruction matters.
func (c *Coordinator) command(cmd resilience.Command) {
	for {
		select {
		case c.cmds <- cmd:
			return
		default:
		}
		select {
		case <-c.cmds:
		default:
		}
	}
}

// Run runs the three loops until ctx is done. On cancellation every target is
// forced to neutral and flushed to the sink once before Run returns nil.
func (c *Coordinator) Run(ctx context.Context) error {
	if h, err := c.opts.Handles.Load(ctx); err != nil {
		c.log.Warn("load resumption handle", "error", err)
	} else if !h.IsZero() {
		c.machine.RestoreHandle(h)
		c.log.Info("restored resumption handle", "seq", h.Seq)
	}
	c.opts.Metrics.Phase(c.machine.Phase())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.ingestLoop(ctx) })
	g.Go(func() error { return c.outputLoop(ctx) })
	g.Go(func() error { return c.monitorLoop(ctx) })
	return g.Wait()
}

// Status returns the current status.
func (c *Coordinator) Status() Status {
	m := c.machine.Snapshot()
	st := Status{
		RunID:      c.runID,
		Phase:      m.Phase,
		Fallback:   m.Fallback,
		Attempt:    m.Attempt,
		HasHandle:  !m.Handle.IsZero(),
		Reconnects: m.Reconnects,
		LastError:  m.LastError,
		Values:     control.Neutral(),
	}
	if b := c.emitted.Load(); b != nil {
		st.Values = b.Values
		st.Seq = b.Seq
	}
	c.mu.Lock()
	st.LastText = c.lastText
	c.mu.Unlock()
	return st
}

func (c *Coordinator) activeConn() inference.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Coordinator) setActive(conn inference.Conn) {
	c.mu.Lock()
	c.active = conn
	c.mu.Unlock()
}

// SendAudio forwards 16 kHz mono PCM to the active session.
func (c *Coordinator) SendAudio(ctx context.Context, pcm []byte) error {
	conn := c.activeConn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.SendAudio(ctx, pcm)
}

// SendText sends a user turn to the active session.
func (c *Coordinator) SendText(ctx context.Context, text string) error {
	conn := c.activeConn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.SendText(ctx, text)
}
