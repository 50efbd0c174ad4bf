package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/live-caption-service/internal/audio"
)

// DefaultModelURL is the ggml model download location; %s is the model size
const DefaultModelURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-%s.bin"

// WhisperServerConfig configures a whisper.cpp HTTP server backend
type WhisperServerConfig struct {
	BaseURL     string // e.g. http://127.0.0.1:8080
	Model       string // tiny, base, small, medium, large-v3
	ModelDir    string // local model cache
	ModelURL    string // download template, empty disables fetching
	LoadOnStart bool   // ask the server to load the cached model
	Timeout     time.Duration
	MaxRetries  int
	Temperature float32
}

// WhisperServer sends windows to a whisper.cpp server for inference
type WhisperServer struct {
	config     WhisperServerConfig
	httpClient *http.Client
	logger     *slog.Logger

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// BackendStats are request counters kept by a backend
type BackendStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"-"`
	AvgResponseMs   float64       `json:"avg_response_ms"`
}

type inferenceResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Error    string `json:"error"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// NewWhisperServer creates a whisper.cpp server backend
func NewWhisperServer(config WhisperServerConfig, logger *slog.Logger) (*WhisperServer, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if config.Model == "" {
		config.Model = "tiny"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.ModelDir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			cacheDir = os.TempDir()
		}
		config.ModelDir = filepath.Join(cacheDir, "live-caption", "models")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WhisperServer{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}, nil
}

// Name implements Backend
func (w *WhisperServer) Name() string {
	return "whisper-server"
}

// ModelPath returns where the ggml model is cached on disk
func (w *WhisperServer) ModelPath() string {
	return filepath.Join(w.config.ModelDir, fmt.Sprintf("ggml-%s.bin", w.config.Model))
}

// Load fetches the model into the local cache when missing and asks the
// server to load it.
func (w *WhisperServer) Load(ctx context.Context) error {
	path := w.ModelPath()

	if w.config.ModelURL != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := w.downloadModel(ctx, path); err != nil {
				return err
			}
		} else if err != nil {
			return fmt.Errorf("failed to stat model cache: %w", err)
		} else {
			w.logger.Debug("Using cached model", slog.String("path", path))
		}
	}

	if !w.config.LoadOnStart {
		return nil
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("model", path); err != nil {
		return fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint("/load"), &buf)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("load request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &httpStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (w *WhisperServer) downloadModel(ctx context.Context, path string) error {
	url := fmt.Sprintf(w.config.ModelURL, w.config.Model)
	w.logger.Info("Downloading model", slog.String("url", url), slog.String("path", path))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create model cache dir: %w", err)
	}

	// downloads can take minutes, so only the context bounds this request
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("model download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model download failed: %w", &httpStatusError{StatusCode: resp.StatusCode, Body: resp.Status})
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move model into cache: %w", err)
	}

	w.logger.Info("Model cached", slog.String("path", path), slog.Int64("bytes", n))
	return nil
}

// Infer implements Backend with retries on transient failures
func (w *WhisperServer) Infer(ctx context.Context, window audio.Window, language string) (Result, error) {
	wav, err := audio.EncodeWAV(window.Samples, window.SampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode window: %w", err)
	}

	startTime := time.Now()
	w.incrementTotalRequests()

	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			w.incrementTotalRetries()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * 250 * time.Millisecond
			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}

		res, err := w.doInference(ctx, wav, language)
		if err == nil {
			w.incrementSuccessRequests()
			w.updateAvgResponseTime(time.Since(startTime))
			return res, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	w.incrementFailedRequests()
	return Result{}, fmt.Errorf("inference failed: %w", lastErr)
}

func (w *WhisperServer) doInference(ctx context.Context, wav []byte, language string) (Result, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "window.wav")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return Result{}, fmt.Errorf("failed to write audio data: %w", err)
	}

	if language == "" {
		language = "auto"
	}
	fields := map[string]string{
		"response_format": "verbose_json",
		"language":        language,
		"temperature":     fmt.Sprintf("%.2f", w.config.Temperature),
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return Result{}, fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint("/inference"), &buf)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &httpStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed inferenceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if parsed.Error != "" {
		return Result{}, fmt.Errorf("server error: %s", parsed.Error)
	}

	return Result{Text: parsed.Text, Language: parsed.Language}, nil
}

func (w *WhisperServer) endpoint(path string) string {
	return strings.TrimRight(w.config.BaseURL, "/") + path
}

// isRetryableError reports whether a failed request is worth repeating
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Statistics methods
func (w *WhisperServer) incrementTotalRequests() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.totalRequests++
}

func (w *WhisperServer) incrementSuccessRequests() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.successRequests++
}

func (w *WhisperServer) incrementFailedRequests() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failedRequests++
}

func (w *WhisperServer) incrementTotalRetries() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.totalRetries++
}

func (w *WhisperServer) updateAvgResponseTime(responseTime time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.avgResponseTime == 0 {
		w.avgResponseTime = responseTime
	} else {
		w.avgResponseTime = (w.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (w *WhisperServer) GetStats() BackendStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	successRate := float64(0)
	if w.totalRequests > 0 {
		successRate = float64(w.successRequests) / float64(w.totalRequests) * 100
	}

	return BackendStats{
		TotalRequests:   w.totalRequests,
		SuccessRequests: w.successRequests,
		FailedRequests:  w.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    w.totalRetries,
		AvgResponseTime: w.avgResponseTime,
		AvgResponseMs:   float64(w.avgResponseTime) / float64(time.Millisecond),
	}
}
