package collab

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the collaboration metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "docsync").
	Namespace string

	// Buckets are the histogram buckets for flush duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the collaboration metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// Metrics holds the Prometheus collectors of the engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	activeSessions prometheus.Gauge
	connections    prometheus.Gauge
	messages       *prometheus.CounterVec
	decodeErrors   prometheus.Counter
	flushes        *prometheus.CounterVec
	flushDuration  prometheus.Histogram
	hydrations     *prometheus.CounterVec
}

// NewMetrics registers the engine collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := MetricsConfig{
		Namespace: "docsync",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "active_sessions",
			Help:      "Number of documents with a live session",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "connections",
			Help:      "Number of joined (connection, document) pairs",
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "messages_total",
			Help:      "Total number of inbound messages by type",
		}, []string{"type"}),
		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of malformed inbound messages dropped",
		}),
		flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "flushes_total",
			Help:      "Total number of snapshot saves by result",
		}, []string{"result"}),
		flushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "flush_duration_seconds",
			Help:      "Snapshot save duration in seconds",
			Buckets:   config.Buckets,
		}),
		hydrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "hydrations_total",
			Help:      "Total number of document loads by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.activeSessions.Dec()
	}
}

func (m *Metrics) connectionJoined() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connectionLeft() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) message(kind string) {
	if m != nil {
		m.messages.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) decodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) flush(err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.flushes.WithLabelValues(result).Inc()
	m.flushDuration.Observe(d.Seconds())
}

// hydration results: "loaded", "empty", "fallback", "rejected".
func (m *Metrics) hydration(result string) {
	if m != nil {
		m.hydrations.WithLabelValues(result).Inc()
	}
}
