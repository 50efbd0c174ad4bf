package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/live-caption-service/internal/audio"
)

// UnknownLanguage is reported when the backend does not detect a language
const UnknownLanguage = "unknown"

// Result is the text recognized in one audio window
type Result struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Backend performs speech recognition for a Transcriber.
// language is empty when the backend should detect it.
type Backend interface {
	Name() string
	Load(ctx context.Context) error
	Infer(ctx context.Context, window audio.Window, language string) (Result, error)
}

// Model is the speech recognizer contract used by Buffer and the pipeline
type Model interface {
	LoadModel(ctx context.Context) error
	Transcribe(ctx context.Context, window audio.Window) (Result, error)
}

// StatsReporter is implemented by backends that count their requests
type StatsReporter interface {
	GetStats() BackendStats
}

// Transcriber wraps a Backend with load sequencing and normalisation.
type Transcriber struct {
	backend  Backend
	language string
	logger   *slog.Logger

	loadMu sync.Mutex
	loaded atomic.Bool
}

// NewTranscriber creates a transcriber. An empty language enables per-call detection.
func NewTranscriber(backend Backend, language string, logger *slog.Logger) *Transcriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcriber{
		backend:  backend,
		language: strings.TrimSpace(language),
		logger:   logger.With(slog.String("backend", backend.Name())),
	}
}

// LoadModel prepares the backend model. A second call after success returns immediately.
func (t *Transcriber) LoadModel(ctx context.Context) error {
	t.loadMu.Lock()
	defer t.loadMu.Unlock()

	if t.loaded.Load() {
		return nil
	}

	start := time.Now()
	t.logger.Info("Loading transcription model")

	if err := t.backend.Load(ctx); err != nil {
		return fmt.Errorf("failed to load %s model: %w", t.backend.Name(), err)
	}

	t.loaded.Store(true)
	t.logger.Info("Transcription model loaded", slog.Duration("took", time.Since(start)))
	return nil
}

// BackendStats returns the backend's request counters when it keeps any
func (t *Transcriber) BackendStats() (BackendStats, bool) {
	r, ok := t.backend.(StatsReporter)
	if !ok {
		return BackendStats{}, false
	}
	return r.GetStats(), true
}

// Loaded reports whether LoadModel has completed
func (t *Transcriber) Loaded() bool {
	return t.loaded.Load()
}

// Transcribe runs speech recognition on window. Samples louder than full
// scale are rescaled; quieter audio is passed through unchanged.
func (t *Transcriber) Transcribe(ctx context.Context, window audio.Window) (res Result, err error) {
	if !t.loaded.Load() {
		return Result{}, ErrModelNotLoaded
	}

	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = &TranscriptionError{Backend: t.backend.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	samples := make([]float32, len(window.Samples))
	copy(samples, window.Samples)
	audio.Normalize(samples)

	out, err := t.backend.Infer(ctx, audio.Window{Samples: samples, SampleRate: window.SampleRate}, t.language)
	if err != nil {
		return Result{}, &TranscriptionError{Backend: t.backend.Name(), Err: err}
	}

	out.Text = strings.TrimSpace(out.Text)
	if out.Language == "" {
		out.Language = t.language
	}
	if out.Language == "" {
		out.Language = UnknownLanguage
	}
	return out, nil
}
