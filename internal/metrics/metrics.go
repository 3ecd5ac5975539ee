// Package metrics exposes engine telemetry as Prometheus metrics. Each Metrics owns its registry
// so several engines, or tests, never collide on registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "depscan"

// Metrics implements the observers of the fetch client, the resolution cache, the tier chain and
// the engine.
type Metrics struct {
	registry *prometheus.Registry

	// CacheLookups counts cache lookups by table and outcome.
	CacheLookups *prometheus.CounterVec

	// HTTPRequests counts outbound registry and advisory requests by host and outcome.
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration measures outbound request latency by host.
	HTTPDuration *prometheus.HistogramVec

	// TierAttempts counts tier attempts by tier and outcome.
	TierAttempts *prometheus.CounterVec

	// Scans counts finished scans by serving tier and outcome.
	Scans *prometheus.CounterVec

	// ScanDuration measures scans by serving tier.
	ScanDuration *prometheus.HistogramVec

	// Findings counts actionable findings reported.
	Findings prometheus.Counter
}

// New creates the metrics on a fresh registry that also carries the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Resolution cache lookups by table and outcome",
			},
			[]string{"table", "outcome"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Outbound requests by host and outcome",
			},
			[]string{"host", "outcome"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Outbound request latency by host",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"host"},
		),
		TierAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tier",
				Name:      "attempts_total",
				Help:      "Dependency source attempts by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		Scans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scan",
				Name:      "total",
				Help:      "Finished scans by serving tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		ScanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scan",
				Name:      "duration_seconds",
				Help:      "Scan duration by serving tier",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"tier"},
		),
		Findings: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scan",
				Name:      "findings_total",
				Help:      "Actionable findings reported",
			},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCache implements cache.Observer.
func (m *Metrics) ObserveCache(table, outcome string) {
	m.CacheLookups.WithLabelValues(table, outcome).Inc()
}

// ObserveRequest implements fetch.Observer.
func (m *Metrics) ObserveRequest(host, outcome string, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(host, outcome).Inc()
	m.HTTPDuration.WithLabelValues(host).Observe(elapsed.Seconds())
}

// ObserveTier implements tiers.Observer.
func (m *Metrics) ObserveTier(tier, outcome string) {
	m.TierAttempts.WithLabelValues(tier, outcome).Inc()
}

// ObserveScan implements engine.Observer.
func (m *Metrics) ObserveScan(tier, outcome string, findings int, elapsed time.Duration) {
	if tier == "" {
		tier = "none"
	}
	m.Scans.WithLabelValues(tier, outcome).Inc()
	m.ScanDuration.WithLabelValues(tier).Observe(elapsed.Seconds())
	m.Findings.Add(float64(findings))
}
