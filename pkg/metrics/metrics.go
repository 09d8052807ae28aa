// Package metrics exposes coordinator counters and gauges to Prometheus.
//
// A nil *Metrics is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haivivi/autodj/pkg/control"
	"github.com/haivivi/autodj/pkg/resilience"
)

const namespace = "autodj"

// Metrics holds every collector on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	emitted      *prometheus.GaugeVec
	phase        *prometheus.GaugeVec
	frames       prometheus.Counter
	schemaErrors *prometheus.CounterVec
	clamped      *prometheus.CounterVec
	reconnects   prometheus.Counter
	dialErrors   prometheus.Counter
	sinkErrors   prometheus.Counter
	handles      prometheus.Counter
	tick         prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		emitted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "emitted_value",
			Help:      "Last normalized value handed to the sink.",
		}, []string{"target"}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_phase",
			Help:      "1 for the current session phase, 0 otherwise.",
		}, []string{"phase"}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Accepted control frames.",
		}),
		schemaErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_errors_total",
			Help:      "Rejected tool calls by reason.",
		}, []string{"reason"}),
		clamped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clamped_values_total",
			Help:      "Raw values outside [-1, 1] that were clamped.",
		}, []string{"target"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Successful reconnects after degradation.",
		}),
		dialErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_errors_total",
			Help:      "Failed dial attempts.",
		}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Batches the sink failed to apply.",
		}),
		handles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resumption_handles_total",
			Help:      "Resumption handles accepted as newer.",
		}),
		tick: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_seconds",
			Help:      "Duration of one output tick including the sink.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
	}
	m.reg.MustRegister(
		m.emitted, m.phase, m.frames, m.schemaErrors, m.clamped,
		m.reconnects, m.dialErrors, m.sinkErrors, m.handles, m.tick,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Emitted records the values of one batch.
func (m *Metrics) Emitted(v control.Values) {
	if m == nil {
		return
	}
	for _, t := range control.Targets {
		m.emitted.WithLabelValues(t.String()).Set(v.At(t))
	}
}

// Phase sets the phase gauge.
func (m *Metrics) Phase(p resilience.Phase) {
	if m == nil {
		return
	}
	for _, q := range resilience.Phases {
		v := 0.0
		if q == p {
			v = 1
		}
		m.phase.WithLabelValues(q.String()).Set(v)
	}
}

// Frame counts an accepted frame and its clamped targets.
func (m *Metrics) Frame(clamped []control.Target) {
	if m == nil {
		return
	}
	m.frames.Inc()
	for _, t := range clamped {
		m.clamped.WithLabelValues(t.String()).Inc()
	}
}

// SchemaError counts a rejected call.
func (m *Metrics) SchemaError(reason string) {
	if m == nil {
		return
	}
	m.schemaErrors.WithLabelValues(reason).Inc()
}

// Reconnect counts a recovery.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// DialError counts a failed dial.
func (m *Metrics) DialError() {
	if m == nil {
		return
	}
	m.dialErrors.Inc()
}

// SinkError counts a failed batch.
func (m *Metrics) SinkError() {
	if m == nil {
		return
	}
	m.sinkErrors.Inc()
}

// Handle counts an accepted resumption handle.
func (m *Metrics) Handle() {
	if m == nil {
		return
	}
	m.handles.Inc()
}

// Tick observes the duration of one tick.
func (m *Metrics) Tick(d time.Duration) {
	if m == nil {
		return
	}
	m.tick.Observe(d.Seconds())
}
