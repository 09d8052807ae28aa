package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"

	"github.com/haivivi/autodj/pkg/control"
)

const testScript = `
# warm up
{"call": {"filter_macro": -1, "beat_repeat_macro": 0.5, "reverb_macro": -0.2, "eq_low_macro": 0}}
{"handle": "tok-1", "text": "building up"}
{"after": "5ms", "error": "connection reset"}
{"dial_error": "unavailable"}
{go_away: true}
{"close": true}
`

func TestParseScript(t *testing.T) {
	steps, err := ParseScript(strings.NewReader(testScript))
	if err != nil {
		t.Fatalf("ParseScript: %v", err)
	}
	if len(steps) != 6 {
		t.Fatalf("got %d steps, want 6", len(steps))
	}
	if steps[2].After.Duration() != 5*time.Millisecond || steps[2].Error != "connection reset" {
		t.Errorf("step 2 = %+v", steps[2])
	}
	if !steps[4].GoAway {
		t.Errorf("repaired step 4 = %+v", steps[4])
	}
}

func TestParseScriptError(t *testing.T) {
	_, err := ParseScript(strings.NewReader(`{"after": 12, "call": "nope"}`))
	if err == nil {
		t.Fatal("expected error for non-object call")
	}
}

func TestScriptReplay(t *testing.T) {
	ctx := context.Background()
	steps, err := ParseScript(strings.NewReader(testScript))
	if err != nil {
		t.Fatal(err)
	}
	d := NewScriptDialer(steps, nil)

	c, err := d.Dial(ctx, Resume{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	ev, err := c.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv call: %v", err)
	}
	if len(ev.Calls) != 1 || ev.Calls[0].Name != control.FunctionName {
		t.Fatalf("event = %+v", ev)
	}
	frame, err := control.ParseArgs(ev.Calls[0].Name, ev.Calls[0].Args)
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if frame.Filter != -1 || frame.BeatRepeat != 0.5 {
		t.Errorf("frame = %+v", frame)
	}
	if err := c.Respond(ctx, []ToolResult{Accepted(ev.Calls[0], frame.Map())}); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	ev, err = c.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv handle: %v", err)
	}
	if diff := cmp.Diff(&HandleUpdate{Token: "tok-1", Seq: 1}, ev.Handle); diff != "" {
		t.Errorf("handle mismatch (-want +got):\n%s", diff)
	}
	if ev.Text != "building up" {
		t.Errorf("text = %q", ev.Text)
	}

	if _, err := c.Recv(ctx); err == nil || IsClean(err) {
		t.Fatalf("Recv error step: %v", err)
	}
	c.Close()
	if _, err := c.Recv(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Recv after Close = %v", err)
	}

	if _, err := d.Dial(ctx, Resume{Token: "tok-1", Seq: 1}); err == nil {
		t.Fatal("Dial should fail on dial_error step")
	}
	c, err = d.Dial(ctx, Resume{Token: "tok-1", Seq: 1})
	if err != nil {
		t.Fatalf("second Dial: %v", err)
	}
	ev, err = c.Recv(ctx)
	if err != nil || !ev.GoAway {
		t.Fatalf("Recv go away = %+v, %v", ev, err)
	}
	if _, err := c.Recv(ctx); !IsClean(err) {
		t.Fatalf("Recv close = %v, want io.EOF", err)
	}

	select {
	case <-d.Done():
	default:
		t.Error("Done not closed after script end")
	}
	if d.Dials() != 2 {
		t.Errorf("Dials = %d, want 2", d.Dials())
	}
	results := d.Results()
	if len(results) != 1 || results[0].Response["status"] != "ok" {
		t.Errorf("results = %+v", results)
	}
}

func TestScriptRecvBlocksWhenExhausted(t *testing.T) {
	d := NewScriptDialer(nil, nil)
	c, err := d.Dial(context.Background(), Resume{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Recv = %v, want deadline exceeded", err)
	}
}

func TestScriptHandleSeqContinuesFromResume(t *testing.T) {
	d := NewScriptDialer([]Step{{Handle: "next"}}, nil)
	c, _ := d.Dial(context.Background(), Resume{Token: "prev", Seq: 41})
	ev, err := c.Recv(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Handle == nil || ev.Handle.Seq != 42 {
		t.Errorf("handle = %+v, want seq 42", ev.Handle)
	}
}

func TestToolResults(t *testing.T) {
	call := ToolCall{ID: "c1", Name: control.FunctionName}
	ok := Accepted(call, map[string]float64{"filter_macro": 0.5})
	if ok.ID != "c1" || ok.Response["status"] != "ok" {
		t.Errorf("Accepted = %+v", ok)
	}
	bad := Rejected(call, "invalid_args:missing_fields:eq_low_macro")
	if bad.Response["status"] != "error" || bad.Response["error"] != "invalid_args:missing_fields:eq_low_macro" {
		t.Errorf("Rejected = %+v", bad)
	}
}

func TestMacroToolSchema(t *testing.T) {
	tool := macroTool()
	if len(tool.FunctionDeclarations) != 1 {
		t.Fatalf("declarations = %d", len(tool.FunctionDeclarations))
	}
	fd := tool.FunctionDeclarations[0]
	if fd.Name != control.FunctionName {
		t.Errorf("Name = %q", fd.Name)
	}
	p := fd.Parameters
	if p.Type != genai.TypeObject || len(p.Properties) != 4 || len(p.Required) != 4 {
		t.Fatalf("parameters = %+v", p)
	}
	f := p.Properties["filter_macro"]
	if f.Type != genai.TypeNumber || *f.Minimum != -1 || *f.Maximum != 1 {
		t.Errorf("filter_macro = %+v", f)
	}
}

func TestTranslate(t *testing.T) {
	c := &geminiConn{}
	c.seq.Store(10)

	ev := c.translate(&genai.LiveServerMessage{
		ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{{
			ID:   "call-1",
			Name: control.FunctionName,
			Args: map[string]any{"filter_macro": 0.1},
		}}},
		SessionResumptionUpdate: &genai.LiveServerSessionResumptionUpdate{NewHandle: "h", Resumable: true},
		ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{Parts: []*genai.Part{{Text: "ok "}}},
		},
	})
	if ev == nil {
		t.Fatal("translate returned nil")
	}
	if len(ev.Calls) != 1 || ev.Calls[0].ID != "call-1" {
		t.Errorf("calls = %+v", ev.Calls)
	}
	if ev.Handle == nil || ev.Handle.Token != "h" || ev.Handle.Seq != 11 {
		t.Errorf("handle = %+v", ev.Handle)
	}
	if ev.Text != "ok " {
		t.Errorf("text = %q", ev.Text)
	}

	if ev := c.translate(&genai.LiveServerMessage{
		SessionResumptionUpdate: &genai.LiveServerSessionResumptionUpdate{NewHandle: "h2", Resumable: false},
	}); ev != nil {
		t.Errorf("non-resumable update produced %+v", ev)
	}
	if ev := c.translate(&genai.LiveServerMessage{GoAway: &genai.LiveServerGoAway{}}); ev == nil || !ev.GoAway {
		t.Errorf("go away = %+v", ev)
	}
}

func TestIsClean(t *testing.T) {
	if !IsClean(io.EOF) || IsClean(errors.New("x")) || IsClean(nil) {
		t.Error("IsClean misclassified")
	}
}

func TestLiveConfig(t *testing.T) {
	d := &GeminiDialer{cfg: GeminiConfig{
		Model:              DefaultModel,
		SystemInstruction:  DefaultSystemInstruction,
		CompressionTrigger: DefaultCompressionTrigger,
		CompressionTarget:  DefaultCompressionTarget,
	}}

	lc := d.liveConfig(Resume{Token: "tok-3", Seq: 3})
	if lc.SessionResumption == nil || lc.SessionResumption.Handle != "tok-3" {
		t.Errorf("resumption = %+v", lc.SessionResumption)
	}
	cw := lc.ContextWindowCompression
	if cw == nil || *cw.TriggerTokens != DefaultCompressionTrigger || *cw.SlidingWindow.TargetTokens != DefaultCompressionTarget {
		t.Errorf("compression = %+v", cw)
	}
	if diff := cmp.Diff([]genai.Modality{genai.ModalityAudio}, lc.ResponseModalities); diff != "" {
		t.Errorf("native audio modalities mismatch (-want +got):\n%s", diff)
	}
	if lc.OutputAudioTranscription == nil {
		t.Error("native audio model without output transcription")
	}
	if len(lc.Tools) != 1 {
		t.Errorf("tools = %d", len(lc.Tools))
	}

	d.cfg.Model = "gemini-2.0-flash-live-001"
	lc = d.liveConfig(Resume{})
	if diff := cmp.Diff([]genai.Modality{genai.ModalityText}, lc.ResponseModalities); diff != "" {
		t.Errorf("text modalities mismatch (-want +got):\n%s", diff)
	}
	if lc.SessionResumption == nil || lc.SessionResumption.Handle != "" {
		t.Errorf("fresh session resumption = %+v", lc.SessionResumption)
	}
}

func TestTranslateSkipsStreamedPieces(t *testing.T) {
	var piece, last genai.FunctionCall
	if err := json.Unmarshal([]byte(`{"id": "call-2", "name": "set_macro_controls", "willContinue": true}`), &piece); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"id": "call-2", "name": "set_macro_controls", "args": {"filter_macro": 0.4}}`), &last); err != nil {
		t.Fatal(err)
	}

	c := &geminiConn{}
	if ev := c.translate(&genai.LiveServerMessage{
		ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{&piece}},
	}); ev != nil {
		t.Errorf("streamed piece produced %+v", ev)
	}
	ev := c.translate(&genai.LiveServerMessage{
		ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{&piece, &last}},
	})
	if ev == nil || len(ev.Calls) != 1 || ev.Calls[0].Args["filter_macro"] != 0.4 {
		t.Errorf("event = %+v, want only the last piece", ev)
	}
}
