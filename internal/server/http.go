package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/live-caption-service/internal/caption"
	"github.com/skypro1111/live-caption-service/internal/config"
	"github.com/skypro1111/live-caption-service/internal/metrics"
	"github.com/skypro1111/live-caption-service/internal/pipeline"
	"github.com/skypro1111/live-caption-service/internal/translation"
)

const serviceVersion = "1.0.0"

// PipelineController is the part of the pipeline the API drives
type PipelineController interface {
	Start(ctx context.Context) bool
	Stop()
	State() pipeline.State
	Status() pipeline.Status
	SetTargetLanguage(code string) error
	SetAIEnabled(enabled bool)
}

// HTTPServer provides HTTP API endpoints for monitoring and control
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	pipeline PipelineController
	captions http.Handler
	history  *caption.History
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	// Server state
	startTime time.Time
	mu        sync.RWMutex
	config    *config.Config
}

// NewHTTPServer creates a new HTTP API server. captions serves the caption
// websocket; gatherer backs /metrics and defaults to the global registry.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	ctrl PipelineController, captions http.Handler, history *caption.History,
	m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger.With(slog.String("component", "http")),
		config:    appConfig,
		pipeline:  ctrl,
		captions:  captions,
		history:   history,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// Start blocks until the speech model is loaded
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	mux.HandleFunc("/pipeline/start", h.withMetrics("/pipeline/start", h.handleStart))
	mux.HandleFunc("/pipeline/stop", h.withMetrics("/pipeline/stop", h.handleStop))
	mux.HandleFunc("/pipeline/target-language", h.withMetrics("/pipeline/target-language", h.handleTargetLanguage))
	mux.HandleFunc("/pipeline/ai", h.withMetrics("/pipeline/ai", h.handleAI))

	mux.HandleFunc("/captions/recent", h.withMetrics("/captions/recent", h.handleRecentCaptions))
	if h.captions != nil {
		// Hijacked connections are not wrapped: the status writer cannot hijack
		mux.Handle("/captions", h.captions)
	}

	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the routed handler, for embedding and tests
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// SetConfig replaces the configuration reported by /config
func (h *HTTPServer) SetConfig(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.config = cfg
}

// Start starts the HTTP server in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server", slog.String("address", h.server.Addr))

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "live-caption-service",
			"version": serviceVersion,
		},
		"pipeline": h.pipeline.State().String(),
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	response := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"pipeline":  h.pipeline.Status(),
	}
	if h.history != nil {
		if ev := h.history.LastError(); ev != nil {
			response["last_error"] = ev
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// handleConfig implements the /config endpoint; credentials are omitted
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	h.mu.RLock()
	cfg := h.config
	h.mu.RUnlock()

	if cfg == nil {
		writeError(w, http.StatusNotFound, "configuration unavailable")
		return
	}

	sanitized := cfg.Sanitized()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pipeline":      sanitized.Pipeline,
		"audio":         sanitized.Audio,
		"buffer":        sanitized.Buffer,
		"transcription": sanitized.Transcription,
		"translation":   sanitized.Translation,
		"ingestion":     sanitized.Ingestion,
		"captions":      sanitized.Captions,
		"logging":       sanitized.Logging,
		"ai_key_set":    cfg.AIKeyConfigured(),
	})
}

// handleStart implements POST /pipeline/start
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if state := h.pipeline.State(); state != pipeline.StateIdle {
		writeError(w, http.StatusConflict, fmt.Sprintf("pipeline is %s", state))
		return
	}

	if !h.pipeline.Start(r.Context()) {
		msg := "pipeline failed to start"
		if h.history != nil {
			if ev := h.history.LastError(); ev != nil {
				msg = ev.Message
			}
		}
		writeError(w, http.StatusServiceUnavailable, msg)
		return
	}

	writeJSON(w, http.StatusOK, h.pipeline.Status())
}

// handleStop implements POST /pipeline/stop
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	h.pipeline.Stop()
	writeJSON(w, http.StatusOK, h.pipeline.Status())
}

// handleTargetLanguage implements PUT /pipeline/target-language
func (h *HTTPServer) handleTargetLanguage(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPut, http.MethodPost) {
		return
	}

	var req struct {
		Language string `json:"language"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.pipeline.SetTargetLanguage(req.Language); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	code := h.pipeline.Status().TargetLanguage
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"target_language": code,
		"name":            translation.LanguageName(code),
		"supported":       translation.IsSupported(code),
	})
}

// handleAI implements PUT /pipeline/ai
func (h *HTTPServer) handleAI(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPut, http.MethodPost) {
		return
	}

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "field 'enabled' is required")
		return
	}

	h.pipeline.SetAIEnabled(*req.Enabled)
	// AI stays off when no backend is configured
	writeJSON(w, http.StatusOK, map[string]bool{"ai_enabled": h.pipeline.Status().AIEnabled})
}

// handleRecentCaptions implements GET /captions/recent
func (h *HTTPServer) handleRecentCaptions(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	captions := []caption.CaptionEvent{}
	if h.history != nil {
		captions = h.history.Captions()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(captions),
		"captions": captions,
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Live Caption Service",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                         "API documentation",
			"GET /health":                   "Service health check",
			"GET /status":                   "Pipeline status",
			"GET /config":                   "Service configuration without credentials",
			"POST /pipeline/start":          "Start captioning",
			"POST /pipeline/stop":           "Stop captioning",
			"PUT /pipeline/target-language": `Change caption language, body {"language":"ta"}`,
			"PUT /pipeline/ai":              `Toggle AI translation, body {"enabled":true}`,
			"GET /captions":                 "Caption event websocket",
			"GET /captions/recent":          "Recently emitted captions",
			"GET /metrics":                  "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
