// Package metrics exposes Prometheus collectors for broker activity.
// Every recorder is safe to call on a nil *Metrics, which is how tests and
// a broker without a metrics listener run.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nuketown_broker"

// Metrics holds the broker's collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	outcomes       *prometheus.CounterVec
	arbitration    *prometheus.HistogramVec
	connections    prometheus.Gauge
	decrypts       *prometheus.CounterVec
	prompts        *prometheus.CounterVec
	remoteEvents   *prometheus.CounterVec
	remoteSessions prometheus.Gauge
}

// New constructs Metrics on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_total",
				Help:      "Terminal outcomes emitted, by flow and token.",
			},
			[]string{"flow", "outcome"},
		),
		arbitration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "arbitration_duration_seconds",
				Help:      "Time from parsed batch to emitted outcome.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"flow"},
		),
		connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections_active",
				Help:      "Connections currently being adjudicated.",
			},
		),
		decrypts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decrypt_attempts_total",
				Help:      "Decrypt attempts by result (ok, failed, killed).",
			},
			[]string{"result"},
		),
		prompts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prompt_answers_total",
				Help:      "Resolved prompts by kind, answering channel and answer.",
			},
			[]string{"kind", "channel", "answer"},
		),
		remoteEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_events_total",
				Help:      "Remote approval traffic (sent, reply, unknown, duplicate, send_failed).",
			},
			[]string{"event"},
		),
		remoteSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "remote_session_up",
				Help:      "1 while the remote notification session is established.",
			},
		),
	}

	reg.MustRegister(
		m.outcomes,
		m.arbitration,
		m.connections,
		m.decrypts,
		m.prompts,
		m.remoteEvents,
		m.remoteSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveOutcome records one emitted outcome for flow.
func (m *Metrics) ObserveOutcome(flow, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(flow, outcome).Inc()
	m.arbitration.WithLabelValues(flow).Observe(elapsed.Seconds())
}

// ConnectionOpened and ConnectionClosed track in-flight connections.
func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

// ObserveDecrypt records a finished decrypt attempt.
func (m *Metrics) ObserveDecrypt(result string) {
	if m != nil {
		m.decrypts.WithLabelValues(result).Inc()
	}
}

// ObservePrompt records how a prompt resolved and on which channel
// (local or remote).
func (m *Metrics) ObservePrompt(kind, channel, answer string) {
	if m != nil {
		m.prompts.WithLabelValues(kind, channel, answer).Inc()
	}
}

// ObserveRemote records remote approval traffic.
func (m *Metrics) ObserveRemote(event string) {
	if m != nil {
		m.remoteEvents.WithLabelValues(event).Inc()
	}
}

// SetRemoteUp reports whether the remote session is established.
func (m *Metrics) SetRemoteUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.remoteSessions.Set(1)
	} else {
		m.remoteSessions.Set(0)
	}
}
