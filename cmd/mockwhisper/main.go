// Command mockwhisper stands in for a whisper.cpp server during local runs.
// It answers /inference with a fixed transcript and accepts /load.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/skypro1111/live-caption-service/internal/audio"
)

type inferenceResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

type mockServer struct {
	text      string
	language  string
	delay     time.Duration
	threshold float32
	logger    *slog.Logger

	requests atomic.Uint64
	loads    atomic.Uint64
}

func (m *mockServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/inference", m.handleInference)
	mux.HandleFunc("/load", m.handleLoad)
	return mux
}

func (m *mockServer) handleInference(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	chunk, err := audio.DecodeWAV(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n := m.requests.Add(1)
	peak := audio.Peak(chunk.Samples)
	m.logger.Info("Inference request",
		slog.Uint64("request", n),
		slog.Duration("audio", chunk.Duration()),
		slog.Float64("peak", float64(peak)),
		slog.String("language", r.FormValue("language")),
		slog.String("response_format", r.FormValue("response_format")),
	)

	time.Sleep(m.delay)

	resp := inferenceResponse{
		Language: m.language,
		Duration: chunk.Duration().Seconds(),
	}
	// Quiet windows transcribe to nothing, like the real model on silence
	if peak >= m.threshold {
		resp.Text = m.text
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (m *mockServer) handleLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.loads.Add(1)
	m.logger.Info("Model load request", slog.String("model", r.FormValue("model")))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "loaded"})
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "Listen address")
	text := flag.String("text", "hello", "Transcript returned for every non-silent window")
	language := flag.String("language", "en", "Language reported with the transcript")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated inference time")
	threshold := flag.Float64("silence-threshold", 0.01, "Peak level below which a window is treated as silence")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	m := &mockServer{
		text:      *text,
		language:  *language,
		delay:     *delay,
		threshold: float32(*threshold),
		logger:    logger,
	}

	logger.Info("Mock whisper server starting",
		slog.String("address", *addr),
		slog.String("text", *text),
	)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      m.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
