package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haivivi/autodj/pkg/control"
	"github.com/haivivi/autodj/pkg/resilience"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Emitted(control.Neutral())
	m.Phase(resilience.Connected)
	m.Frame([]control.Target{control.ReverbMacro})
	m.SchemaError("missing_fields")
	m.Reconnect()
	m.DialError()
	m.SinkError()
	m.Handle()
	m.Tick(time.Millisecond)
}

func TestRecord(t *testing.T) {
	m := New()
	m.Frame([]control.Target{control.ReverbMacro, control.ReverbMacro})
	m.Frame(nil)
	m.SchemaError("unknown_fields")
	m.Emitted(control.Values{Filter: 0.25, BeatRepeat: 0, Reverb: 1, EqLow: 0.5})
	m.Phase(resilience.DegradedHolding)

	if got := testutil.ToFloat64(m.frames); got != 2 {
		t.Errorf("frames = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.clamped.WithLabelValues("reverb_macro")); got != 2 {
		t.Errorf("clamped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.emitted.WithLabelValues("filter_macro")); got != 0.25 {
		t.Errorf("emitted filter = %v", got)
	}
	if got := testutil.ToFloat64(m.phase.WithLabelValues("degraded_holding")); got != 1 {
		t.Errorf("phase gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.phase.WithLabelValues("connected")); got != 0 {
		t.Errorf("connected gauge = %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.Reconnect()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "autodj_reconnects_total 1") {
		t.Errorf("metrics output missing reconnect counter:\n%s", body)
	}
}
