package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineStates lists the values reported by the pipeline state gauge
var PipelineStates = []string{"idle", "starting", "active", "stopping"}

// Metrics contains all Prometheus metrics for the caption service.
// Every recording method is safe to call on a nil *Metrics.
type Metrics struct {
	// Audio chunk metrics
	ChunksReceived *prometheus.CounterVec
	ChunksDropped  *prometheus.CounterVec

	// Ingestion metrics
	IngestionConnections prometheus.Gauge

	// Pipeline metrics
	PipelineState         *prometheus.GaugeVec
	CaptionsEmitted       prometheus.Counter
	CycleErrors           *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram
	InputLevel            prometheus.Gauge

	// Translation metrics
	Translations        *prometheus.CounterVec
	TranslationDuration *prometheus.HistogramVec
	AIFallbacks         prometheus.Counter
	TranslationRetries  prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ChunksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caption_audio_chunks_total",
			Help: "Total number of audio chunks queued for the pipeline",
		}, []string{"source"}),
		ChunksDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caption_audio_chunks_dropped_total",
			Help: "Total number of audio chunks dropped because the queue was full or detached",
		}, []string{"source"}),

		IngestionConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "caption_ingestion_connections",
			Help: "Current number of connected browser audio producers",
		}),

		PipelineState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "caption_pipeline_state",
			Help: "Current pipeline state, 1 for the active state label",
		}, []string{"state"}),
		CaptionsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_captions_emitted_total",
			Help: "Total number of caption events emitted",
		}),
		CycleErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caption_cycle_errors_total",
			Help: "Total number of per-chunk processing errors",
		}, []string{"stage"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "caption_transcription_duration_seconds",
			Help:    "Time spent transcribing a buffered window",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		InputLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "caption_input_level",
			Help: "RMS level of the most recent audio chunk",
		}),

		Translations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caption_translations_total",
			Help: "Total number of translations by method",
		}, []string{"method"}),
		TranslationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caption_translation_duration_seconds",
			Help:    "Duration of translations by method",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}, []string{"method"}),
		AIFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_ai_fallbacks_total",
			Help: "Total number of AI translation failures that fell back to basic translation",
		}),
		TranslationRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_translation_retries_total",
			Help: "Total number of basic translation retries",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caption_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caption_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caption_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordChunk counts a chunk queued from source
func (m *Metrics) RecordChunk(source string) {
	if m == nil {
		return
	}
	m.ChunksReceived.WithLabelValues(source).Inc()
}

// RecordChunkDropped counts a chunk dropped from source
func (m *Metrics) RecordChunkDropped(source string) {
	if m == nil {
		return
	}
	m.ChunksDropped.WithLabelValues(source).Inc()
}

// SetIngestionConnections sets the number of connected producers
func (m *Metrics) SetIngestionConnections(n int) {
	if m == nil {
		return
	}
	m.IngestionConnections.Set(float64(n))
}

// SetPipelineState marks state as current
func (m *Metrics) SetPipelineState(state string) {
	if m == nil {
		return
	}
	for _, s := range PipelineStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.PipelineState.WithLabelValues(s).Set(v)
	}
}

// RecordCaption counts an emitted caption
func (m *Metrics) RecordCaption() {
	if m == nil {
		return
	}
	m.CaptionsEmitted.Inc()
}

// RecordCycleError counts a failed processing cycle at stage
func (m *Metrics) RecordCycleError(stage string) {
	if m == nil {
		return
	}
	m.CycleErrors.WithLabelValues(stage).Inc()
}

// ObserveTranscription records the time spent in one transcription
func (m *Metrics) ObserveTranscription(d time.Duration) {
	if m == nil {
		return
	}
	m.TranscriptionDuration.Observe(d.Seconds())
}

// ObserveInputLevel sets the latest input RMS level
func (m *Metrics) ObserveInputLevel(level float64) {
	if m == nil {
		return
	}
	m.InputLevel.Set(level)
}

// RecordTranslation records a completed translation
func (m *Metrics) RecordTranslation(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.Translations.WithLabelValues(method).Inc()
	m.TranslationDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordAIFallback counts an AI failure that fell through to basic translation
func (m *Metrics) RecordAIFallback() {
	if m == nil {
		return
	}
	m.AIFallbacks.Inc()
}

// RecordTranslationRetry increments the retry counter
func (m *Metrics) RecordTranslationRetry() {
	if m == nil {
		return
	}
	m.TranslationRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
