package inference

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/haivivi/autodj/pkg/control"
	"github.com/haivivi/autodj/pkg/jsontime"
)

// Step is one line of a replay script. A step waits After, then delivers
// whatever it carries. Example lines:
//
//	{"after": "1s", "call": {"filter_macro": -1, "beat_repeat_macro": 0.5, "reverb_macro": -0.2, "eq_low_macro": 0}}
//	{"handle": "resume-token-1"}
//	{"after": "500ms", "error": "connection reset"}
//	{"dial_error": "unavailable"}
//	{"go_away": true}
//
// A dial_error step makes the next Dial fail and is skipped by Recv.
type Step struct {
	After     jsontime.Duration `json:"after,omitzero"`
	Name      string            `json:"name,omitempty"`
	Call      map[string]any    `json:"call,omitempty"`
	Handle    string            `json:"handle,omitempty"`
	GoAway    bool              `json:"go_away,omitempty"`
	Text      string            `json:"text,omitempty"`
	Error     string            `json:"error,omitempty"`
	DialError string            `json:"dial_error,omitempty"`
	// Close ends the session cleanly.
	Close bool `json:"close,omitempty"`
}

// ParseScript reads JSON lines. Blank lines and lines starting with '#' are
// skipped. Slightly malformed lines are repaired when possible.
func ParseScript(r io.Reader) ([]Step, error) {
	var steps []Step
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var s Step
		if err := unmarshalJSON([]byte(line), &s); err != nil {
			return nil, fmt.Errorf("inference: script line %d: %w", n, err)
		}
		steps = append(steps, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("inference: read script: %w", err)
	}
	return steps, nil
}

// LoadScript parses the script file at path.
func LoadScript(path string) ([]Step, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("inference: open script: %w", err)
	}
	defer f.Close()
	return ParseScript(f)
}

// unmarshalJSON unmarshals data into v, repairing malformed JSON on syntax
// errors.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var se *json.SyntaxError
	if !errors.As(err, &se) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(string(data))
	if rerr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}

// ScriptDialer replays a script. Every connection continues from where the
// previous one stopped, so a script can describe failures and the traffic
// after the reconnect.
type ScriptDialer struct {
	log *slog.Logger

	mu      sync.Mutex
	steps   []Step
	pos     int
	dials   int
	results []ToolResult
	texts   []string
	audio   int

	done     chan struct{}
	doneOnce sync.Once
}

// NewScriptDialer returns a dialer replaying steps. logger may be nil.
func NewScriptDialer(steps []Step, logger *slog.Logger) *ScriptDialer {
	if logger == nil {
		logger = slog.Default()
	}
	d := &ScriptDialer{log: logger, steps: steps, done: make(chan struct{})}
	if len(steps) == 0 {
		d.finish()
	}
	return d
}

// Done is closed once every step has been taken from the script.
func (d *ScriptDialer) Done() <-chan struct{} {
	return d.done
}

func (d *ScriptDialer) finish() {
	d.doneOnce.Do(func() { close(d.done) })
}

// Dials returns the number of successful dials.
func (d *ScriptDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Results returns every tool result sent so far.
func (d *ScriptDialer) Results() []ToolResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ToolResult(nil), d.results...)
}

// Texts returns every text turn sent so far.
func (d *ScriptDialer) Texts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.texts...)
}

// AudioBytes returns the number of PCM bytes sent so far.
func (d *ScriptDialer) AudioBytes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audio
}

// Dial implements Dialer.
func (d *ScriptDialer) Dial(ctx context.Context, resume Resume) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos < len(d.steps) && d.steps[d.pos].DialError != "" {
		msg := d.steps[d.pos].DialError
		d.advanceLocked()
		return nil, fmt.Errorf("inference: script dial: %s", msg)
	}
	d.dials++
	c := &scriptConn{
		d:       d,
		id:      uuid.NewString(),
		seq:     resume.Seq,
		closeCh: make(chan struct{}),
	}
	d.log.Debug("script session opened", "conn", c.id, "resume", resume.Token)
	return c, nil
}

func (d *ScriptDialer) advanceLocked() {
	d.pos++
	if d.pos >= len(d.steps) {
		d.finish()
	}
}

// take returns the next step, skipping dial errors.
func (d *ScriptDialer) take() (Step, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.pos < len(d.steps) {
		s := d.steps[d.pos]
		d.advanceLocked()
		if s.DialError != "" {
			continue
		}
		return s, true
	}
	return Step{}, false
}

type scriptConn struct {
	d   *ScriptDialer
	id  string
	seq uint64

	closeCh   chan struct{}
	closeOnce sync.Once
}

func (c *scriptConn) ID() string { return c.id }

func (c *scriptConn) Recv(ctx context.Context) (*Event, error) {
	for {
		select {
		case <-c.closeCh:
			return nil, ErrClosed
		default:
		}
		s, ok := c.d.take()
		if !ok {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.closeCh:
				return nil, ErrClosed
			}
		}
		if d := s.After.Duration(); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-c.closeCh:
				timer.Stop()
				return nil, ErrClosed
			case <-timer.C:
			}
		}
		switch {
		case s.Error != "":
			return nil, fmt.Errorf("inference: script stream: %s", s.Error)
		case s.Close:
			return nil, io.EOF
		}
		if ev := c.event(s); ev != nil {
			return ev, nil
		}
	}
}

func (c *scriptConn) event(s Step) *Event {
	var (
		ev Event
		ok bool
	)
	if s.Call != nil || s.Name != "" {
		name := s.Name
		if name == "" {
			name = control.FunctionName
		}
		ev.Calls = []ToolCall{{ID: uuid.NewString(), Name: name, Args: s.Call}}
		ok = true
	}
	if s.Handle != "" {
		c.seq++
		ev.Handle = &HandleUpdate{Token: s.Handle, Seq: c.seq}
		ok = true
	}
	if s.GoAway {
		ev.GoAway = true
		ok = true
	}
	if s.Text != "" {
		ev.Text = s.Text
		ok = true
	}
	if !ok {
		return nil
	}
	return &ev
}

func (c *scriptConn) closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *scriptConn) Respond(_ context.Context, results []ToolResult) error {
	if c.closed() {
		return ErrClosed
	}
	c.d.mu.Lock()
	c.d.results = append(c.d.results, results...)
	c.d.mu.Unlock()
	return nil
}

func (c *scriptConn) SendText(_ context.Context, text string) error {
	if c.closed() {
		return ErrClosed
	}
	c.d.mu.Lock()
	c.d.texts = append(c.d.texts, text)
	c.d.mu.Unlock()
	return nil
}

func (c *scriptConn) SendAudio(_ context.Context, pcm []byte) error {
	if c.closed() {
		return ErrClosed
	}
	c.d.mu.Lock()
	c.d.audio += len(pcm)
	c.d.mu.Unlock()
	return nil
}

func (c *scriptConn) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	return nil
}
