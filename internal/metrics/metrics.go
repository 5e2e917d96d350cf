package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector defines the interface for metrics collection
type Collector interface {
	// Session metrics
	SessionStarted(cameraID string)
	SessionStopped(cameraID string)
	FallbackEntered(cameraID string)

	// Frame metrics
	FrameReceived(cameraID string, sizeBytes int)
	FrameRejected(cameraID string)

	// Storage metrics
	BytesWritten(cameraID string, n int)
	WriteFailed(cameraID string)
	FileFinalized(cameraID, mediaType string)

	// Transport metrics
	Reconnect(cameraID string)

	// Pacer metrics
	FramesForwarded(cameraID string)
	FramesDropped(cameraID string, n int)

	// Prober metrics
	ProbeCompleted(status string)

	Handler() http.Handler
}

// PrometheusCollector implements the Collector interface using Prometheus
type PrometheusCollector struct {
	registry *prometheus.Registry

	activeSessions  prometheus.Gauge
	sessionsStarted *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec

	framesReceived *prometheus.CounterVec
	framesRejected *prometheus.CounterVec
	frameSize      prometheus.Histogram

	bytesWritten   *prometheus.CounterVec
	writeFailures  *prometheus.CounterVec
	filesFinalized *prometheus.CounterVec

	reconnects *prometheus.CounterVec

	framesForwarded *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec

	probes *prometheus.CounterVec
}

// NewPrometheusCollector registers recorder metrics on a dedicated registry.
func NewPrometheusCollector() *PrometheusCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &PrometheusCollector{
		registry: reg,

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "recorder_active_sessions",
			Help: "Number of active recording sessions",
		}),

		sessionsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_sessions_started_total",
				Help: "Total number of recording sessions started",
			},
			[]string{"camera_id"},
		),

		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_image_fallbacks_total",
				Help: "Total number of sessions that switched to image fallback",
			},
			[]string{"camera_id"},
		),

		framesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_frames_received_total",
				Help: "Total number of frames received from cameras",
			},
			[]string{"camera_id"},
		),

		framesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_frames_rejected_total",
				Help: "Total number of frames that failed validation",
			},
			[]string{"camera_id"},
		),

		frameSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "recorder_frame_size_bytes",
			Help:    "Size of encoded frames in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 10), // 1KB to 512KB
		}),

		bytesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_bytes_written_total",
				Help: "Total number of bytes persisted",
			},
			[]string{"camera_id"},
		),

		writeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_write_failures_total",
				Help: "Total number of failed writes",
			},
			[]string{"camera_id"},
		),

		filesFinalized: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_files_finalized_total",
				Help: "Total number of output files registered with the media store",
			},
			[]string{"camera_id", "media_type"},
		),

		reconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_transport_reconnects_total",
				Help: "Total number of transport reconnection attempts",
			},
			[]string{"camera_id"},
		),

		framesForwarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_pacer_forwarded_total",
				Help: "Total number of frames forwarded to display sinks",
			},
			[]string{"camera_id"},
		),

		framesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_pacer_dropped_total",
				Help: "Total number of stale frames dropped by pacers",
			},
			[]string{"camera_id"},
		),

		probes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_probes_total",
				Help: "Total number of camera reachability probes",
			},
			[]string{"status"},
		),
	}
}

func (c *PrometheusCollector) SessionStarted(cameraID string) {
	c.sessionsStarted.WithLabelValues(cameraID).Inc()
	c.activeSessions.Inc()
}

func (c *PrometheusCollector) SessionStopped(cameraID string) {
	c.activeSessions.Dec()
}

func (c *PrometheusCollector) FallbackEntered(cameraID string) {
	c.fallbacks.WithLabelValues(cameraID).Inc()
}

func (c *PrometheusCollector) FrameReceived(cameraID string, sizeBytes int) {
	c.framesReceived.WithLabelValues(cameraID).Inc()
	c.frameSize.Observe(float64(sizeBytes))
}

func (c *PrometheusCollector) FrameRejected(cameraID string) {
	c.framesRejected.WithLabelValues(cameraID).Inc()
}

func (c *PrometheusCollector) BytesWritten(cameraID string, n int) {
	c.bytesWritten.WithLabelValues(cameraID).Add(float64(n))
}

func (c *PrometheusCollector) WriteFailed(cameraID string) {
	c.writeFailures.WithLabelValues(cameraID).Inc()
}

func (c *PrometheusCollector) FileFinalized(cameraID, mediaType string) {
	c.filesFinalized.WithLabelValues(cameraID, mediaType).Inc()
}

func (c *PrometheusCollector) Reconnect(cameraID string) {
	c.reconnects.WithLabelValues(cameraID).Inc()
}

func (c *PrometheusCollector) FramesForwarded(cameraID string) {
	c.framesForwarded.WithLabelValues(cameraID).Inc()
}

func (c *PrometheusCollector) FramesDropped(cameraID string, n int) {
	c.framesDropped.WithLabelValues(cameraID).Add(float64(n))
}

func (c *PrometheusCollector) ProbeCompleted(status string) {
	c.probes.WithLabelValues(status).Inc()
}

// Handler returns an HTTP handler for metrics endpoint
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
