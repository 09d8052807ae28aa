package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

// DefaultModel is the Live model used when GeminiConfig.Model is empty.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"

// Context window compression defaults, in tokens.
const (
	DefaultCompressionTrigger = 24000
	DefaultCompressionTarget  = 12000
)

// DefaultSystemInstruction steers the model toward tool calls.
const DefaultSystemInstruction = "You are an AI DJ macro controller. " +
	"Prioritize tool call 'set_macro_controls' over natural language. " +
	"Only emit values in [-1.0, 1.0]. " +
	"Always send all four keys: filter_macro, beat_repeat_macro, reverb_macro, eq_low_macro. " +
	"Do not narrate internal reasoning when a tool call is applicable. " +
	"Do not stay static at neutral unless the scene is truly static. " +
	"Map energetic input to stronger macro changes and calm anticipation to controlled tension, not random spikes."

// DefaultPrimingPrompt is sent as the first user turn of every session.
const DefaultPrimingPrompt = "Operate autonomously from the live input. " +
	"Prioritize tool use over natural language. " +
	"Call set_macro_controls roughly every 1-2 seconds with meaningful updates in [-1, 1]. " +
	"The only valid keys are filter_macro, beat_repeat_macro, reverb_macro and eq_low_macro, and every call must include all four. " +
	"Do not use keys like filter, volume, pitch, tempo, eq_high, eq_mid or crossfade. " +
	"For high energy push filter_macro up (0.5 to 1.0), reverb_macro up (0.2 to 0.8) and pulse beat_repeat_macro (0.1 to 0.7) briefly. " +
	"For pre-drop tension keep filter high, reverb moderate and beat repeat restrained. " +
	"For calm energy reduce effects toward neutral. " +
	"Do not output long explanations; prefer tool calls."

// GeminiConfig configures a GeminiDialer.
type GeminiConfig struct {
	APIKey string
	Model  string

	SystemInstruction string
	// PrimingPrompt is sent as the first user turn. Empty skips it.
	PrimingPrompt string

	// CompressionTrigger and CompressionTarget configure sliding window
	// context compression. Zero uses the defaults.
	CompressionTrigger int64
	CompressionTarget  int64

	Logger *slog.Logger
}

// GeminiDialer opens Gemini Live sessions.
type GeminiDialer struct {
	client *genai.Client
	cfg    GeminiConfig
	log    *slog.Logger
}

// NewGeminiDialer creates a Gemini API client.
func NewGeminiDialer(ctx context.Context, cfg GeminiConfig) (*GeminiDialer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("inference: gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemInstruction == "" {
		cfg.SystemInstruction = DefaultSystemInstruction
	}
	if cfg.CompressionTrigger == 0 {
		cfg.CompressionTrigger = DefaultCompressionTrigger
	}
	if cfg.CompressionTarget == 0 {
		cfg.CompressionTarget = DefaultCompressionTarget
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("inference: create gemini client: %w", err)
	}
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return &GeminiDialer{client: client, cfg: cfg, log: l}, nil
}

// liveConfig builds the session configuration for a (re)connect.
func (d *GeminiDialer) liveConfig(resume Resume) *genai.LiveConnectConfig {
	trigger, target := d.cfg.CompressionTrigger, d.cfg.CompressionTarget
	lc := &genai.LiveConnectConfig{
		SystemInstruction: genai.NewContentFromText(d.cfg.SystemInstruction, genai.RoleUser),
		Tools:             []*genai.Tool{macroTool()},
		ContextWindowCompression: &genai.ContextWindowCompressionConfig{
			TriggerTokens: &trigger,
			SlidingWindow: &genai.SlidingWindow{TargetTokens: &target},
		},
		SessionResumption: &genai.SessionResumptionConfig{Handle: resume.Token},
	}
	// Native audio models only answer with audio; keep text through output
	// transcription.
	if strings.Contains(d.cfg.Model, "native-audio") {
		lc.ResponseModalities = []genai.Modality{genai.ModalityAudio}
		lc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	} else {
		lc.ResponseModalities = []genai.Modality{genai.ModalityText}
	}
	return lc
}

// Dial implements Dialer.
func (d *GeminiDialer) Dial(ctx context.Context, resume Resume) (Conn, error) {
	session, err := d.client.Live.Connect(ctx, d.cfg.Model, d.liveConfig(resume))
	if err != nil {
		if e, ok := err.(*apierror.APIError); ok {
			err = e.Unwrap()
		}
		return nil, fmt.Errorf("inference: connect %s: %w", d.cfg.Model, err)
	}
	c := &geminiConn{
		id:      uuid.NewString(),
		session: session,
		log:     d.log,
		events:  make(chan eventOrError, 16),
		closeCh: make(chan struct{}),
	}
	c.seq.Store(resume.Seq)
	c.log.Info("gemini session opened", "conn", c.id, "model", d.cfg.Model, "resumed", resume.Token != "")

	if d.cfg.PrimingPrompt != "" {
		if err := c.SendText(ctx, d.cfg.PrimingPrompt); err != nil {
			c.Close()
			return nil, err
		}
	}
	go c.readLoop()
	return c, nil
}

type eventOrError struct {
	event *Event
	err   error
}

type geminiConn struct {
	id      string
	session *genai.Session
	log     *slog.Logger
	seq     atomic.Uint64

	sendMu sync.Mutex

	events    chan eventOrError
	closeCh   chan struct{}
	closeOnce sync.Once
}

func (c *geminiConn) ID() string { return c.id }

func (c *geminiConn) Recv(ctx context.Context) (*Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeCh:
		return nil, ErrClosed
	case item := <-c.events:
		return item.event, item.err
	}
}

func (c *geminiConn) Respond(_ context.Context, results []ToolResult) error {
	if len(results) == 0 {
		return nil
	}
	resps := make([]*genai.FunctionResponse, 0, len(results))
	for _, r := range results {
		resps = append(resps, &genai.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: r.Response,
		})
	}
	return c.send(func() error {
		return c.session.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: resps})
	})
}

func (c *geminiConn) SendText(_ context.Context, text string) error {
	return c.send(func() error {
		return c.session.SendClientContent(genai.LiveClientContentInput{
			Turns: []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		})
	})
}

func (c *geminiConn) SendAudio(_ context.Context, pcm []byte) error {
	return c.send(func() error {
		return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{Data: pcm, MIMEType: "audio/pcm;rate=16000"},
		})
	})
}

func (c *geminiConn) send(fn func() error) error {
	select {
	case <-c.closeCh:
		return ErrClosed
	default:
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := fn(); err != nil {
		return fmt.Errorf("inference: send: %w", err)
	}
	return nil
}

func (c *geminiConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.session.Close()
		c.log.Info("gemini session closed", "conn", c.id)
	})
	return err
}

func (c *geminiConn) readLoop() {
	for {
		msg, err := c.session.Receive()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				err = io.EOF
			} else {
				err = fmt.Errorf("inference: receive: %w", err)
			}
			select {
			case <-c.closeCh:
			case c.events <- eventOrError{err: err}:
			}
			return
		}
		ev := c.translate(msg)
		if ev == nil {
			continue
		}
		select {
		case <-c.closeCh:
			return
		case c.events <- eventOrError{event: ev}:
		}
	}
}

// translate maps a server message to an Event. It returns nil for messages
// that carry nothing the coordinator acts on.
func (c *geminiConn) translate(msg *genai.LiveServerMessage) *Event {
	var (
		ev Event
		ok bool
	)
	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil || partial(fc) {
				continue
			}
			ev.Calls = append(ev.Calls, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
			ok = true
		}
	}
	if u := msg.SessionResumptionUpdate; u != nil && u.Resumable && u.NewHandle != "" {
		ev.Handle = &HandleUpdate{Token: u.NewHandle, Seq: c.seq.Add(1)}
		ok = true
	}
	if msg.GoAway != nil {
		ev.GoAway = true
		ok = true
	}
	if sc := msg.ServerContent; sc != nil {
		var b strings.Builder
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p != nil && p.Text != "" {
					b.WriteString(p.Text)
				}
			}
		}
		if sc.OutputTranscription != nil {
			b.WriteString(sc.OutputTranscription.Text)
		}
		if b.Len() > 0 {
			ev.Text = b.String()
			ok = true
		}
	}
	if !ok {
		return nil
	}
	return &ev
}

// partial reports whether fc is a streamed piece with more to follow. Only
// the last piece is acted on.
func partial(fc *genai.FunctionCall) bool {
	data, err := json.Marshal(fc)
	if err != nil {
		return false
	}
	var v struct {
		WillContinue bool `json:"willContinue"`
	}
	return json.Unmarshal(data, &v) == nil && v.WillContinue
}
