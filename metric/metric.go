// Package metric provides Prometheus-based metrics for the RPC layer: request
// dispatch outcomes, validation failures by part, live stream and socket
// gauges, and topic fan-out counters.
//
// A nil *Registry disables all recording: every observe method is a no-op on
// a nil receiver, so callers never branch on whether metrics are enabled.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns the Prometheus registry and every core metric of the RPC
// layer.
type Registry struct {
	prometheusRegistry *prometheus.Registry

	// Request dispatch
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Validation
	ValidationFailures *prometheus.CounterVec

	// Streaming and SSE
	ActiveStreams *prometheus.GaugeVec
	ChunksSent    *prometheus.CounterVec

	// WebSocket
	SocketConnections prometheus.Gauge
	SocketMessages    *prometheus.CounterVec
	PublishedMessages *prometheus.CounterVec
}

// NewRegistry creates a metrics registry with all core metrics registered,
// plus Go runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "richierpc",
				Subsystem: "router",
				Name:      "requests_total",
				Help:      "Total requests dispatched, by endpoint, kind, and status",
			},
			[]string{"endpoint", "kind", "status"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "richierpc",
				Subsystem: "router",
				Name:      "request_duration_seconds",
				Help:      "Request handling duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint", "kind"},
		),

		ValidationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "richierpc",
				Subsystem: "router",
				Name:      "validation_failures_total",
				Help:      "Request validation failures, by endpoint and part",
			},
			[]string{"endpoint", "part"},
		),

		ActiveStreams: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "richierpc",
				Subsystem: "router",
				Name:      "active_streams",
				Help:      "Streaming and SSE responses currently open",
			},
			[]string{"kind"},
		),

		ChunksSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "richierpc",
				Subsystem: "router",
				Name:      "chunks_sent_total",
				Help:      "Stream chunks and SSE events written",
			},
			[]string{"endpoint", "kind"},
		),

		SocketConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "richierpc",
				Subsystem: "socket",
				Name:      "connections",
				Help:      "WebSocket connections currently open",
			},
		),

		SocketMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "richierpc",
				Subsystem: "socket",
				Name:      "messages_total",
				Help:      "WebSocket messages, by endpoint, type, and direction",
			},
			[]string{"endpoint", "type", "direction"},
		),

		PublishedMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "richierpc",
				Subsystem: "socket",
				Name:      "published_total",
				Help:      "Messages fanned out through topic publish",
			},
			[]string{"topic"},
		),
	}

	r.prometheusRegistry.MustRegister(
		r.RequestsTotal,
		r.RequestDuration,
		r.ValidationFailures,
		r.ActiveStreams,
		r.ChunksSent,
		r.SocketConnections,
		r.SocketMessages,
		r.PublishedMessages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Handler returns an HTTP handler exposing the metrics in Prometheus text
// format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prometheusRegistry, promhttp.HandlerOpts{})
}

// ObserveRequest records one dispatched request.
func (r *Registry) ObserveRequest(endpoint, kind string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.RequestsTotal.WithLabelValues(endpoint, kind, statusLabel(status)).Inc()
	r.RequestDuration.WithLabelValues(endpoint, kind).Observe(elapsed.Seconds())
}

// ObserveValidationFailure records one request validation failure.
func (r *Registry) ObserveValidationFailure(endpoint, part string) {
	if r == nil {
		return
	}
	r.ValidationFailures.WithLabelValues(endpoint, part).Inc()
}

// StreamOpened records a streaming or SSE response opening.
func (r *Registry) StreamOpened(kind string) {
	if r == nil {
		return
	}
	r.ActiveStreams.WithLabelValues(kind).Inc()
}

// StreamClosed records a streaming or SSE response closing.
func (r *Registry) StreamClosed(kind string) {
	if r == nil {
		return
	}
	r.ActiveStreams.WithLabelValues(kind).Dec()
}

// ObserveChunk records one chunk or event written to an open stream.
func (r *Registry) ObserveChunk(endpoint, kind string) {
	if r == nil {
		return
	}
	r.ChunksSent.WithLabelValues(endpoint, kind).Inc()
}

// SocketOpened records a WebSocket connection opening.
func (r *Registry) SocketOpened() {
	if r == nil {
		return
	}
	r.SocketConnections.Inc()
}

// SocketClosed records a WebSocket connection closing.
func (r *Registry) SocketClosed() {
	if r == nil {
		return
	}
	r.SocketConnections.Dec()
}

// ObserveSocketMessage records one WebSocket message in either direction.
func (r *Registry) ObserveSocketMessage(endpoint, msgType, direction string) {
	if r == nil {
		return
	}
	r.SocketMessages.WithLabelValues(endpoint, msgType, direction).Inc()
}

// ObservePublish records one topic fan-out publish.
func (r *Registry) ObservePublish(topic string) {
	if r == nil {
		return
	}
	r.PublishedMessages.WithLabelValues(topic).Inc()
}

func statusLabel(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
