package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vango-dev/uiwire/pkg/protocol"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "uiwire").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for write latency.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "uiwire",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the wire-level collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	framesSent        prometheus.Counter
	framesReceived    prometheus.Counter
	bytesSent         prometheus.Counter
	bytesReceived     prometheus.Counter
	chunkDuration     prometheus.Histogram
	frameSize         prometheus.Histogram
	writeFailures     prometheus.Counter
	decodeErrors      *prometheus.CounterVec
	encodeErrors      prometheus.Counter
}

// NewMetrics registers the collectors and returns them.
//
// Metrics collected:
//   - uiwire_connections_active: Gauge of open connections
//   - uiwire_connections_total: Counter of accepted connections
//   - uiwire_frames_sent_total: Counter of committed outbound frames
//   - uiwire_frames_received_total: Counter of decoded inbound frames
//   - uiwire_bytes_sent_total: Counter of bytes acknowledged by the transport
//   - uiwire_bytes_received_total: Counter of bytes merged into reassemblers
//   - uiwire_chunk_write_duration_seconds: Histogram of transport write latency
//   - uiwire_frame_size_bytes: Histogram of inbound frame sizes
//   - uiwire_write_failures_total: Counter of fatal write failures
//   - uiwire_decode_errors_total: Counter of fatal decode errors by type
//   - uiwire_encode_errors_total: Counter of rejected outbound values
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_active",
			Help:        "Number of open wire connections",
			ConstLabels: config.ConstLabels,
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_total",
			Help:        "Total number of accepted wire connections",
			ConstLabels: config.ConstLabels,
		}),

		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_sent_total",
			Help:        "Total number of frames committed for sending",
			ConstLabels: config.ConstLabels,
		}),

		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_received_total",
			Help:        "Total number of frames decoded from peers",
			ConstLabels: config.ConstLabels,
		}),

		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "bytes_sent_total",
			Help:        "Total bytes acknowledged by the transport",
			ConstLabels: config.ConstLabels,
		}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "bytes_received_total",
			Help:        "Total bytes received from peers",
			ConstLabels: config.ConstLabels,
		}),

		chunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "chunk_write_duration_seconds",
			Help:        "Transport write latency per chunk in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		frameSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frame_size_bytes",
			Help:        "Size of inbound frames in bytes",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{16, 64, 256, 1024, 4096, 16384, 65536}, // 16B to 64KB
		}),

		writeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "write_failures_total",
			Help:        "Total number of fatal transport write failures",
			ConstLabels: config.ConstLabels,
		}),

		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "decode_errors_total",
			Help:        "Total fatal decode errors by type",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		encodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "encode_errors_total",
			Help:        "Total outbound values rejected by the encoder",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

// ConnectionClosed records a torn down connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// FrameSent records a committed outbound frame.
func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

// EncodeFailed records a value the encoder rejected.
func (m *Metrics) EncodeFailed() {
	if m == nil {
		return
	}
	m.encodeErrors.Inc()
}

// ChunkWritten records one completed transport write. It has the signature
// of flush.Config.OnChunk.
func (m *Metrics) ChunkWritten(n int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.chunkDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.writeFailures.Inc()
		return
	}
	m.bytesSent.Add(float64(n))
}

// BytesReceived records a delivery merged into a reassembler.
func (m *Metrics) BytesReceived(n int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(n))
}

// FrameReceived records a decoded inbound frame.
func (m *Metrics) FrameReceived(size int) {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
	m.frameSize.Observe(float64(size))
}

// DecodeFailed records a fatal decode error.
func (m *Metrics) DecodeFailed(err error) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(categorizeError(err)).Inc()
}

// categorizeError returns a category for the error type.
// This prevents high-cardinality labels from error messages.
func categorizeError(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownTag):
		return "unknown_tag"
	case errors.Is(err, protocol.ErrAllocationTooLarge):
		return "allocation"
	case errors.Is(err, protocol.ErrInvalidUTF8):
		return "utf8"
	case errors.Is(err, protocol.ErrInvalidJSON):
		return "json"
	case errors.Is(err, protocol.ErrInvalidMarker):
		return "marker"
	case errors.Is(err, protocol.ErrVersionMismatch):
		return "version"
	default:
		return "internal"
	}
}
