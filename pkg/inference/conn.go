// Package inference connects to the remote multimodal model that produces
// macro control intents.
//
// A Dialer opens a Conn, optionally resuming an earlier session with a
// resumption handle. A Conn yields Events: tool calls carrying control
// arguments, resumption handle updates, go-away notices and model text.
// Every tool call must be answered with Respond.
//
// Two dialers are provided: GeminiDialer talks to the Gemini Live API and
// ScriptDialer replays a JSON lines script for offline rehearsal and tests.
package inference

import (
	"context"
	"errors"
	"io"
)

// ErrClosed is returned by operations on a closed Conn.
var ErrClosed = errors.New("inference: connection closed")

// Resume identifies the session to resume. A zero Resume starts a new one.
type Resume struct {
	Token string
	// Seq is the sequence number of Token. Handle updates received on the
	// new connection are numbered after it.
	Seq uint64
}

// Dialer opens inference connections.
type Dialer interface {
	Dial(ctx context.Context, resume Resume) (Conn, error)
}

// Conn is one live inference session.
type Conn interface {
	// ID returns a connection identifier for logs.
	ID() string

	// Recv blocks until the next event. It returns io.EOF when the remote
	// closed the session cleanly and ErrClosed after Close.
	Recv(ctx context.Context) (*Event, error)

	// Respond answers tool calls.
	Respond(ctx context.Context, results []ToolResult) error

	// SendText pushes a user text turn into the session.
	SendText(ctx context.Context, text string) error

	// SendAudio pushes 16 kHz mono 16-bit PCM.
	SendAudio(ctx context.Context, pcm []byte) error

	// Close ends the session. Pending Recv calls return ErrClosed.
	Close() error
}

// Event is one message from the remote. Any combination of fields may be
// set.
type Event struct {
	Calls []ToolCall

	// Handle is set when the remote issued a new resumable handle.
	Handle *HandleUpdate

	// GoAway is set when the remote announced it will end the session.
	GoAway bool

	// Text is model text or audio transcription.
	Text string
}

// HandleUpdate is a new resumption handle.
type HandleUpdate struct {
	Token string
	Seq   uint64
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult answers a ToolCall.
type ToolResult struct {
	ID       string
	Name     string
	Response map[string]any
}

// OK reports whether r accepts the call.
func (r ToolResult) OK() bool {
	return r.Response["status"] == "ok"
}

// Accepted builds the success response for call echoing the accepted raw
// values.
func Accepted(call ToolCall, accepted map[string]float64) ToolResult {
	return ToolResult{
		ID:   call.ID,
		Name: call.Name,
		Response: map[string]any{
			"status":   "ok",
			"accepted": accepted,
		},
	}
}

// Rejected builds the error response for call.
func Rejected(call ToolCall, code string) ToolResult {
	return ToolResult{
		ID:   call.ID,
		Name: call.Name,
		Response: map[string]any{
			"status": "error",
			"error":  code,
		},
	}
}

// IsClean reports whether err marks a clean end of session rather than a
// failure.
func IsClean(err error) bool {
	return errors.Is(err, io.EOF)
}
