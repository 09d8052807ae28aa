package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrBridgeDown is returned while the bridge is disconnected and the redial
// interval has not elapsed yet.
var ErrBridgeDown = errors.New("sink: bridge not connected")

// Encoding of bridge messages.
const (
	EncodingMsgpack = "msgpack"
	EncodingJSON    = "json"
)

// MessageTypeMacros is the type of every message sent by WebSocket.
const MessageTypeMacros = "macros"

// Message is the payload sent to the bridge for every batch. Values are
// mapped through the configured ranges.
type Message struct {
	Type   string             `json:"type" msgpack:"type"`
	Client string             `json:"client" msgpack:"client"`
	Seq    uint64             `json:"seq" msgpack:"seq"`
	At     int64              `json:"at" msgpack:"at"` // unix milliseconds
	Final  bool               `json:"final,omitempty" msgpack:"final,omitempty"`
	Values map[string]float64 `json:"values" msgpack:"values"`
}

// WebSocketConfig configures a bridge sink.
type WebSocketConfig struct {
	// URL of the bridge, e.g. ws://127.0.0.1:9753/macros.
	URL    string
	Header http.Header

	// Encoding is EncodingMsgpack (default) or EncodingJSON.
	Encoding string
	Ranges   Ranges

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// RedialInterval is the minimum time between two dial attempts.
	RedialInterval time.Duration

	Logger *slog.Logger
}

func (c *WebSocketConfig) setDefaults() {
	if c.Encoding == "" {
		c.Encoding = EncodingMsgpack
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 2 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 100 * time.Millisecond
	}
	if c.RedialInterval <= 0 {
		c.RedialInterval = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// WebSocket pushes batches to an external bridge that owns the audio host.
// The connection is dialed in the background on the first batch and redialed
// after failures, at most once per RedialInterval. Apply never waits for a
// dial except for a final batch, which dials within the caller's ctx.
type WebSocket struct {
	cfg    WebSocketConfig
	id     string
	dialer websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	dialing  chan struct{} // closed when the in-flight dial finishes
	dialErr  error
	lastDial time.Time
	closed   bool

	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewWebSocket validates cfg and returns a bridge sink. No connection is made
// until the first Apply or Connect.
func NewWebSocket(cfg WebSocketConfig) (*WebSocket, error) {
	if cfg.URL == "" {
		return nil, errors.New("sink: bridge url is required")
	}
	cfg.setDefaults()
	if cfg.Encoding != EncodingMsgpack && cfg.Encoding != EncodingJSON {
		return nil, fmt.Errorf("sink: unknown encoding %q", cfg.Encoding)
	}
	if err := cfg.Ranges.Validate(); err != nil {
		return nil, err
	}
	return &WebSocket{
		cfg:     cfg,
		id:      uuid.NewString(),
		dialer:  websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		closeCh: make(chan struct{}),
	}, nil
}

// ClientID identifies this sink in every message.
func (s *WebSocket) ClientID() string { return s.id }

// Encode builds and encodes the message for b.
func (s *WebSocket) Encode(b Batch) ([]byte, int, error) {
	msg := Message{
		Type:   MessageTypeMacros,
		Client: s.id,
		Seq:    b.Seq,
		At:     b.At.UnixMilli(),
		Final:  b.Final,
		Values: s.cfg.Ranges.Apply(b.Values),
	}
	if s.cfg.Encoding == EncodingJSON {
		data, err := json.Marshal(msg)
		return data, websocket.TextMessage, err
	}
	data, err := msgpack.Marshal(&msg)
	return data, websocket.BinaryMessage, err
}

// Connect dials the bridge and waits until the connection is up or ctx is
// done. It is a no-op while connected.
func (s *WebSocket) Connect(ctx context.Context) error {
	_, err := s.connect(ctx, true)
	return err
}

// Apply implements Sink.
func (s *WebSocket) Apply(ctx context.Context, b Batch) error {
	data, typ, err := s.Encode(b)
	if err != nil {
		return fmt.Errorf("sink: encode: %w", err)
	}
	conn, err := s.connect(ctx, b.Final)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return ErrBridgeDown
	}
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteMessage(typ, data); err != nil {
		s.dropLocked(conn)
		return fmt.Errorf("sink: bridge write: %w", err)
	}
	return nil
}

// connect returns the live connection. Without wait it starts a background
// dial when allowed and returns ErrBridgeDown at once. With wait it dials, or
// joins the dial in flight, until ctx is done.
func (s *WebSocket) connect(ctx context.Context, wait bool) (*websocket.Conn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrBridgeDown
	}
	if s.conn != nil {
		conn := s.conn
		s.mu.Unlock()
		return conn, nil
	}
	done := s.dialing
	if done == nil && (wait || s.lastDial.IsZero() || time.Since(s.lastDial) >= s.cfg.RedialInterval) {
		done = s.startDialLocked()
	}
	lastErr := s.dialErr
	s.mu.Unlock()

	if !wait {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrBridgeDown, lastErr)
		}
		return nil, ErrBridgeDown
	}
	select {
	case <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("sink: bridge dial: %w", ctx.Err())
	case <-s.closeCh:
		return nil, ErrBridgeDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		if s.dialErr != nil {
			return nil, s.dialErr
		}
		return nil, ErrBridgeDown
	}
	return s.conn, nil
}

func (s *WebSocket) startDialLocked() chan struct{} {
	done := make(chan struct{})
	s.dialing = done
	s.lastDial = time.Now()
	go s.dial(done)
	return done
}

// dial runs one dial attempt. It is aborted by Close.
func (s *WebSocket) dial(done chan struct{}) {
	defer close(done)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, s.cfg.Header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("sink: bridge dial: %w (status %d)", err, resp.StatusCode)
		} else {
			err = fmt.Errorf("sink: bridge dial: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialing = nil
	if err != nil {
		if s.dialErr == nil || s.dialErr.Error() != err.Error() {
			s.cfg.Logger.Warn("bridge dial failed", "url", s.cfg.URL, "error", err)
		}
		s.dialErr = err
		return
	}
	if s.closed {
		conn.Close()
		return
	}
	s.dialErr = nil
	s.conn = conn
	s.cfg.Logger.Info("bridge connected", "url", s.cfg.URL, "client", s.id)
	go s.readLoop(conn)
}

// readLoop drains incoming frames so control messages are processed and a
// peer close is noticed before the next write.
func (s *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.mu.Lock()
			if s.conn == conn {
				s.cfg.Logger.Warn("bridge disconnected", "error", err)
				s.dropLocked(conn)
			}
			s.mu.Unlock()
			return
		}
	}
}

func (s *WebSocket) dropLocked(conn *websocket.Conn) {
	conn.Close()
	if s.conn == conn {
		s.conn = nil
	}
}

// Close sends a close frame, releases the connection and aborts a dial in
// flight.
func (s *WebSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
	return conn.Close()
}
