package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the meeting audio service
type Metrics struct {
	// Capture and encoding metrics
	ChunksEncoded prometheus.Counter
	ChunksDropped prometheus.Counter
	CaptureErrors prometheus.Counter
	ActivityLevel prometheus.Histogram

	// Segmentation metrics
	SegmentsOpened     prometheus.Counter
	SegmentsClosed     prometheus.Counter
	SegmentsDispatched prometheus.Counter
	DispatchFailures   prometheus.Counter
	OpenSegments       prometheus.Gauge
	SegmentDuration    prometheus.Histogram

	// Session transport metrics
	MessagesSent     prometheus.Counter
	MessagesDropped  prometheus.Counter
	MessagesReceived prometheus.Counter
	ParseErrors      prometheus.Counter
	Reconnects       prometheus.Counter
	SessionEpochs    prometheus.Counter

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Capture and encoding metrics
		ChunksEncoded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_audio_chunks_encoded_total",
			Help: "Total number of audio chunks encoded for the session",
		}),
		ChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_audio_chunks_dropped_total",
			Help: "Total number of audio chunks dropped while the session channel was down",
		}),
		CaptureErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_capture_errors_total",
			Help: "Total number of audio capture read errors",
		}),
		ActivityLevel: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meeting_activity_level",
			Help:    "Observed speech activity level per chunk (0-100)",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),

		// Segmentation metrics
		SegmentsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_segments_opened_total",
			Help: "Total number of utterance segments opened",
		}),
		SegmentsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_segments_closed_total",
			Help: "Total number of utterance segments closed",
		}),
		SegmentsDispatched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_segments_dispatched_total",
			Help: "Total number of segments handed to the transcription pipeline",
		}),
		DispatchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_segment_dispatch_failures_total",
			Help: "Total number of segment dispatch failures",
		}),
		OpenSegments: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "meeting_open_segments",
			Help: "Current number of open utterance segments across speakers",
		}),
		SegmentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meeting_segment_duration_seconds",
			Help:    "Duration of closed utterance segments",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s to 32s
		}),

		// Session transport metrics
		MessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_session_messages_sent_total",
			Help: "Total number of messages sent over the session channel",
		}),
		MessagesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_session_messages_dropped_total",
			Help: "Total number of outbound messages dropped while disconnected",
		}),
		MessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_session_messages_received_total",
			Help: "Total number of messages received over the session channel",
		}),
		ParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_session_parse_errors_total",
			Help: "Total number of malformed inbound messages discarded",
		}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_session_reconnects_total",
			Help: "Total number of session reconnect attempts scheduled",
		}),
		SessionEpochs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_session_epochs_total",
			Help: "Total number of session connection epochs started",
		}),

		// Transcription metrics
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meeting_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meeting_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordChunkEncoded records one encoded chunk and its activity level
func (m *Metrics) RecordChunkEncoded(level float64) {
	m.ChunksEncoded.Inc()
	m.ActivityLevel.Observe(level)
}

// RecordChunkDropped increments the dropped chunks counter
func (m *Metrics) RecordChunkDropped() {
	m.ChunksDropped.Inc()
}

// RecordCaptureError increments the capture errors counter
func (m *Metrics) RecordCaptureError() {
	m.CaptureErrors.Inc()
}

// RecordSegmentOpened increments the segments opened counter
func (m *Metrics) RecordSegmentOpened() {
	m.SegmentsOpened.Inc()
}

// RecordSegmentClosed records a closed segment and its duration
func (m *Metrics) RecordSegmentClosed(durationSeconds float64) {
	m.SegmentsClosed.Inc()
	m.SegmentDuration.Observe(durationSeconds)
}

// RecordSegmentDispatched increments the dispatched segments counter
func (m *Metrics) RecordSegmentDispatched() {
	m.SegmentsDispatched.Inc()
}

// RecordDispatchFailure increments the dispatch failures counter
func (m *Metrics) RecordDispatchFailure() {
	m.DispatchFailures.Inc()
}

// SetOpenSegments sets the current open segment gauge
func (m *Metrics) SetOpenSegments(count int) {
	m.OpenSegments.Set(float64(count))
}

// RecordMessageSent increments the messages sent counter
func (m *Metrics) RecordMessageSent() {
	m.MessagesSent.Inc()
}

// RecordMessageDropped increments the dropped messages counter
func (m *Metrics) RecordMessageDropped() {
	m.MessagesDropped.Inc()
}

// RecordMessageReceived increments the messages received counter
func (m *Metrics) RecordMessageReceived() {
	m.MessagesReceived.Inc()
}

// RecordParseError increments the inbound parse errors counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// RecordReconnect increments the reconnects counter
func (m *Metrics) RecordReconnect() {
	m.Reconnects.Inc()
}

// RecordSessionEpoch increments the session epochs counter
func (m *Metrics) RecordSessionEpoch() {
	m.SessionEpochs.Inc()
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
