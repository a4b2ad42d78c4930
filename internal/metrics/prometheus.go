package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Discard reasons used as label values
const (
	ReasonOverrun           = "overrun"
	ReasonInsufficientAudio = "insufficient_audio"
	ReasonSilence           = "silence"
	ReasonEncodingFailure   = "encoding_failure"
	ReasonTransportNotOpen  = "transport_not_open"
	ReasonSendFailure       = "send_failure"
)

// Metrics contains all Prometheus metrics for the capture client and dev backend
type Metrics struct {
	// Capture metrics
	SamplesCaptured  prometheus.Counter
	SamplesDiscarded *prometheus.CounterVec
	BufferOverruns   prometheus.Counter

	// Chunk pipeline metrics
	SchedulerTicks      prometheus.Counter
	ChunksEmitted       prometheus.Counter
	ChunksDiscarded     *prometheus.CounterVec
	ChunkDuration       prometheus.Histogram
	ChunkRMS            prometheus.Histogram
	ChunkProcessingTime prometheus.Histogram

	// Transport metrics
	FramesSent        prometheus.Counter
	FrameSize         prometheus.Histogram
	TransportConnects *prometheus.CounterVec
	TransportErrors   prometheus.Counter
	MessagesReceived  prometheus.Counter

	// Session metrics
	SessionsStarted prometheus.Counter
	ActiveSessions  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Dev backend metrics
	BackendConnections    prometheus.Gauge
	BackendFramesReceived prometheus.Counter
	BackendFramesRejected *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil registerer leaves the metrics unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Capture metrics
		SamplesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "translatar_samples_captured_total",
			Help: "Total number of audio samples written to the capture buffer",
		}),
		SamplesDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "translatar_discarded_samples_total",
			Help: "Total number of captured samples lost before chunking",
		}, []string{"reason"}),
		BufferOverruns: factory.NewCounter(prometheus.CounterOpts{
			Name: "translatar_buffer_overruns_total",
			Help: "Total number of writes that overwrote unread samples",
		}),

		// Chunk pipeline metrics
		SchedulerTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "translatar_scheduler_ticks_total",
			Help: "Total number of chunk scheduler ticks",
		}),
		ChunksEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "translatar_chunks_emitted_total",
			Help: "Total number of chunks read from the capture buffer",
		}),
		ChunksDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "translatar_chunks_discarded_total",
			Help: "Total number of chunks not transmitted, by reason",
		}, []string{"reason"}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "translatar_chunk_duration_seconds",
			Help:    "Duration of emitted audio chunks including overlap",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}),
		ChunkRMS: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "translatar_chunk_rms",
			Help:    "RMS level of evaluated chunks",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 0.001 to ~0.5
		}),
		ChunkProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "translatar_chunk_processing_duration_seconds",
			Help:    "Time from chunk emission to frame enqueue",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		}),

		// Transport metrics
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "translatar_frames_sent_total",
			Help: "Total number of frames handed to the transport",
		}),
		FrameSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "translatar_frame_size_bytes",
			Help:    "Size of transmitted frames in bytes",
			Buckets: prometheus.ExponentialBuckets(16384, 2, 10), // 16KB to ~8MB
		}),
		TransportConnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "translatar_transport_connects_total",
			Help: "Total number of connection attempts by outcome",
		}, []string{"outcome"}),
		TransportErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "translatar_transport_errors_total",
			Help: "Total number of asynchronous connection errors",
		}),
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "translatar_messages_received_total",
			Help: "Total number of text results received",
		}),

		// Session metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "translatar_sessions_started_total",
			Help: "Total number of capture sessions started",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "translatar_active_sessions",
			Help: "Current number of capturing sessions",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "translatar_session_duration_seconds",
			Help:    "Duration of capture sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Dev backend metrics
		BackendConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "translatar_backend_connections",
			Help: "Current number of connected backend clients",
		}),
		BackendFramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "translatar_backend_frames_received_total",
			Help: "Total number of frames accepted by the backend",
		}),
		BackendFramesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "translatar_backend_frames_rejected_total",
			Help: "Total number of frames rejected by the backend",
		}, []string{"reason"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "translatar_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "translatar_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "translatar_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordCapture records samples written to the buffer and any overrun loss
func (m *Metrics) RecordCapture(samples, dropped int) {
	m.SamplesCaptured.Add(float64(samples))
	if dropped > 0 {
		m.BufferOverruns.Inc()
		m.SamplesDiscarded.WithLabelValues(ReasonOverrun).Add(float64(dropped))
	}
}

// RecordTick increments the scheduler tick counter
func (m *Metrics) RecordTick() {
	m.SchedulerTicks.Inc()
}

// RecordChunkEmitted records a chunk read from the buffer
func (m *Metrics) RecordChunkEmitted(durationSeconds, rms float64) {
	m.ChunksEmitted.Inc()
	m.ChunkDuration.Observe(durationSeconds)
	m.ChunkRMS.Observe(rms)
}

// RecordChunkDiscarded increments the discarded chunk counter for reason
func (m *Metrics) RecordChunkDiscarded(reason string) {
	m.ChunksDiscarded.WithLabelValues(reason).Inc()
}

// RecordFrameSent records a frame handed to the transport
func (m *Metrics) RecordFrameSent(sizeBytes int, processingSeconds float64) {
	m.FramesSent.Inc()
	m.FrameSize.Observe(float64(sizeBytes))
	m.ChunkProcessingTime.Observe(processingSeconds)
}

// RecordConnect records a connection attempt
func (m *Metrics) RecordConnect(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.TransportConnects.WithLabelValues(outcome).Inc()
}

// RecordTransportError increments the asynchronous connection error counter
func (m *Metrics) RecordTransportError() {
	m.TransportErrors.Inc()
}

// RecordMessageReceived increments the received results counter
func (m *Metrics) RecordMessageReceived() {
	m.MessagesReceived.Inc()
}

// RecordSessionStarted records a session entering capture
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionEnded records a session leaving capture
func (m *Metrics) RecordSessionEnded(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordBackendFrame records a frame accepted by the backend
func (m *Metrics) RecordBackendFrame() {
	m.BackendFramesReceived.Inc()
}

// RecordBackendRejection records a frame or connection rejected by the backend
func (m *Metrics) RecordBackendRejection(reason string) {
	m.BackendFramesRejected.WithLabelValues(reason).Inc()
}

// SetBackendConnections sets the number of connected backend clients
func (m *Metrics) SetBackendConnections(count int) {
	m.BackendConnections.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
