// Package telemetry holds the Prometheus collectors shared by the core
// services and the HTTP surface.
package telemetry

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so that several instances can coexist in
// one test binary.
type Metrics struct {
	CacheLookups     *prometheus.CounterVec
	EngineErrors     *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	SessionsReaped   prometheus.Counter
	Connections      prometheus.Gauge
	EventsDelivered  *prometheus.CounterVec
	HostUsage        *prometheus.GaugeVec
	SampleFailures   prometheus.Counter
	RequestCounter   *prometheus.CounterVec
	LatencyHistogram *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New registers every collector on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lighthouse_cache_lookups_total",
				Help: "Gateway cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		),
		EngineErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lighthouse_engine_errors_total",
				Help: "Failed container engine calls by operation",
			},
			[]string{"op"},
		),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lighthouse_terminal_sessions",
			Help: "Terminal sessions currently registered",
		}),
		SessionsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lighthouse_terminal_sessions_reaped_total",
			Help: "Terminal sessions closed for inactivity",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lighthouse_realtime_connections",
			Help: "Connected realtime clients",
		}),
		EventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lighthouse_events_delivered_total",
				Help: "Broadcast events delivered by event name",
			},
			[]string{"event"},
		),
		HostUsage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lighthouse_host_usage_percent",
				Help: "Last sampled host resource usage",
			},
			[]string{"resource"},
		),
		SampleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lighthouse_sample_failures_total",
			Help: "Metric samples that failed and were skipped",
		}),
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lighthouse_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		LatencyHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lighthouse_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.CacheLookups,
		m.EngineErrors,
		m.ActiveSessions,
		m.SessionsReaped,
		m.Connections,
		m.EventsDelivered,
		m.HostUsage,
		m.SampleFailures,
		m.RequestCounter,
		m.LatencyHistogram,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// CacheHit and CacheMiss count gateway lookups.
func (m *Metrics) CacheHit(cache string) {
	m.CacheLookups.WithLabelValues(cache, "hit").Inc()
}

func (m *Metrics) CacheMiss(cache string) {
	m.CacheLookups.WithLabelValues(cache, "miss").Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, path string, status int, seconds float64) {
	m.RequestCounter.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.LatencyHistogram.WithLabelValues(method, path).Observe(seconds)
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
