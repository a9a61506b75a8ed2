// Package metrics exposes session lifecycle and gateway counters to
// Prometheus. A *Metrics satisfies both gateway.Metrics and service.Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "casedesk"

type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	rotations     prometheus.Counter
	warnings      prometheus.Counter
	expirations   prometheus.Counter
	remoteLogouts prometheus.Counter
	extensions    *prometheus.CounterVec
	authenticated prometheus.Gauge
	remaining     prometheus.Gauge
}

// New registers every collector on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Gateway requests by action and outcome.",
		}, []string{"action", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Gateway round trip time by action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "credential_rotations_total",
			Help:      "Credentials rotated from response envelopes.",
		}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "warnings_total",
			Help:      "Expiry warnings shown.",
		}),
		expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "expirations_total",
			Help:      "Sessions ended by credential expiry.",
		}),
		remoteLogouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "remote_logouts_total",
			Help:      "Logouts propagated from another execution context.",
		}),
		extensions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "extensions_total",
			Help:      "Session extension attempts by result.",
		}, []string{"result"}),
		authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "authenticated",
			Help:      "1 while a credential is held.",
		}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "remaining_seconds",
			Help:      "Time left on the held credential.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.latency,
		m.rotations,
		m.warnings,
		m.expirations,
		m.remoteLogouts,
		m.extensions,
		m.authenticated,
		m.remaining,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RequestDone(action, outcome string, elapsed time.Duration) {
	m.requests.WithLabelValues(action, outcome).Inc()
	m.latency.WithLabelValues(action).Observe(elapsed.Seconds())
}

func (m *Metrics) Rotated() { m.rotations.Inc() }

func (m *Metrics) WarningShown() { m.warnings.Inc() }

func (m *Metrics) SessionExpired() { m.expirations.Inc() }

func (m *Metrics) RemoteLogout() { m.remoteLogouts.Inc() }

func (m *Metrics) ExtensionDone(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	m.extensions.WithLabelValues(result).Inc()
}

// SetSession records whether a credential is held and how long it has left.
func (m *Metrics) SetSession(authenticated bool, remaining time.Duration) {
	if !authenticated {
		m.authenticated.Set(0)
		m.remaining.Set(0)
		return
	}
	m.authenticated.Set(1)
	m.remaining.Set(remaining.Seconds())
}
