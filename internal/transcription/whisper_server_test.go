package transcription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skypro1111/live-caption-service/internal/audio"
)

func newWhisperTestServer(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/inference", func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= failures {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"text":     "hello world",
			"language": r.FormValue("language"),
		})
	})
	mux.HandleFunc("/load", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("model") == "" {
			http.Error(w, "missing model", http.StatusBadRequest)
			return
		}
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/models/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ggml-model-bytes"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &calls
}

func TestWhisperServerInfer(t *testing.T) {
	server, _ := newWhisperTestServer(t, 0)

	backend, err := NewWhisperServer(WhisperServerConfig{BaseURL: server.URL, ModelDir: t.TempDir()}, testLogger())
	if err != nil {
		t.Fatalf("NewWhisperServer failed: %v", err)
	}

	res, err := backend.Infer(context.Background(), audio.Window{Samples: make([]float32, 1600), SampleRate: 16000}, "")
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	if res.Text != "hello world" {
		t.Errorf("Expected 'hello world', got %q", res.Text)
	}
	if res.Language != "auto" {
		t.Errorf("Expected language 'auto' sent for detection, got %q", res.Language)
	}
}

func TestWhisperServerRetriesServerErrors(t *testing.T) {
	server, calls := newWhisperTestServer(t, 1)

	backend, _ := NewWhisperServer(WhisperServerConfig{BaseURL: server.URL, MaxRetries: 2, ModelDir: t.TempDir()}, testLogger())

	if _, err := backend.Infer(context.Background(), audio.Window{Samples: make([]float32, 160), SampleRate: 16000}, "en"); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}

	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}

	stats := backend.GetStats()
	if stats.TotalRetries != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestWhisperServerGivesUp(t *testing.T) {
	server, calls := newWhisperTestServer(t, 100)

	backend, _ := NewWhisperServer(WhisperServerConfig{BaseURL: server.URL, MaxRetries: 1, ModelDir: t.TempDir()}, testLogger())

	_, err := backend.Infer(context.Background(), audio.Window{Samples: make([]float32, 160), SampleRate: 16000}, "en")
	if err == nil {
		t.Fatal("Expected error after retries")
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
	if backend.GetStats().FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", backend.GetStats().FailedRequests)
	}
}

func TestWhisperServerLoadDownloadsAndCaches(t *testing.T) {
	server, _ := newWhisperTestServer(t, 0)
	dir := t.TempDir()

	backend, _ := NewWhisperServer(WhisperServerConfig{
		BaseURL:     server.URL,
		Model:       "tiny",
		ModelDir:    dir,
		ModelURL:    server.URL + "/models/ggml-%s.bin",
		LoadOnStart: true,
		Timeout:     5 * time.Second,
	}, testLogger())

	if err := backend.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	path := filepath.Join(dir, "ggml-tiny.bin")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected cached model at %s: %v", path, err)
	}
	if string(data) != "ggml-model-bytes" {
		t.Errorf("Unexpected model contents %q", data)
	}

	// cached model is reused without another download
	server.Close()
	backend.config.LoadOnStart = false
	if err := backend.Load(context.Background()); err != nil {
		t.Errorf("Expected cached load to succeed, got %v", err)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", &httpStatusError{StatusCode: 500}, true},
		{"rate limited", &httpStatusError{StatusCode: 429}, true},
		{"bad request", &httpStatusError{StatusCode: 400}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTranscriberReportsBackendStats(t *testing.T) {
	server, _ := newWhisperTestServer(t, 0)
	backend, _ := NewWhisperServer(WhisperServerConfig{BaseURL: server.URL, ModelDir: t.TempDir()}, testLogger())
	tr := NewTranscriber(backend, "", testLogger())

	if err := tr.LoadModel(context.Background()); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	if _, err := tr.Transcribe(context.Background(), window(0.1, -0.1)); err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	stats, ok := tr.BackendStats()
	if !ok {
		t.Fatal("Expected whisper server backend to report stats")
	}
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.SuccessRate != 100 {
		t.Errorf("Expected 100%% success rate, got %f", stats.SuccessRate)
	}

	if _, ok := NewTranscriber(&fakeBackend{}, "", testLogger()).BackendStats(); ok {
		t.Error("Expected backend without counters to report none")
	}
}
