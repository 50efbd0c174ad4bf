package transcription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/skypro1111/live-caption-service/internal/audio"
)

type fakeModel struct {
	text    string
	err     error
	windows []audio.Window
}

func (f *fakeModel) LoadModel(ctx context.Context) error { return nil }

func (f *fakeModel) Transcribe(ctx context.Context, w audio.Window) (Result, error) {
	f.windows = append(f.windows, w)
	if f.err != nil {
		return Result{}, f.err
	}
	return Result{Text: f.text, Language: "en"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func halfSecondChunk(value float32) audio.Chunk {
	samples := make([]float32, 8000)
	for i := range samples {
		samples[i] = value
	}
	return audio.Chunk{Samples: samples, Channels: 1, SampleRate: 16000}
}

func newTestBuffer(t *testing.T, cfg BufferConfig, model Model) *Buffer {
	t.Helper()
	b, err := NewBuffer(cfg, model, testLogger())
	if err != nil {
		t.Fatalf("NewBuffer failed: %v", err)
	}
	return b
}

func TestBufferBelowMinDuration(t *testing.T) {
	model := &fakeModel{text: "hello"}
	b := newTestBuffer(t, DefaultBufferConfig(), model)

	for i := 1; i <= 3; i++ {
		res, err := b.AddChunk(context.Background(), halfSecondChunk(0))
		if err != nil {
			t.Fatalf("AddChunk %d failed: %v", i, err)
		}
		if res != nil {
			t.Fatalf("Expected nil result after %d chunks, got %+v", i, res)
		}

		expected := time.Duration(i) * 500 * time.Millisecond
		if b.Duration() != expected {
			t.Errorf("Expected buffered duration %v, got %v", expected, b.Duration())
		}
	}

	if len(model.windows) != 0 {
		t.Errorf("Expected no transcription calls, got %d", len(model.windows))
	}
}

func TestBufferTranscribesAtMinDuration(t *testing.T) {
	model := &fakeModel{text: "hello"}
	b := newTestBuffer(t, DefaultBufferConfig(), model)

	var res *Result
	var err error
	for i := 0; i < 4; i++ {
		res, err = b.AddChunk(context.Background(), halfSecondChunk(0))
		if err != nil {
			t.Fatalf("AddChunk failed: %v", err)
		}
	}

	if res == nil || res.Text != "hello" {
		t.Fatalf("Expected result 'hello', got %+v", res)
	}
	if b.Duration() != 0 || b.Len() != 0 {
		t.Errorf("Expected empty buffer after transcription, got %v in %d chunks", b.Duration(), b.Len())
	}
	if len(model.windows) != 1 {
		t.Fatalf("Expected 1 transcription call, got %d", len(model.windows))
	}
	if got := len(model.windows[0].Samples); got != 32000 {
		t.Errorf("Expected window of 32000 samples, got %d", got)
	}
}

func TestBufferEmptyTextReturnsNil(t *testing.T) {
	model := &fakeModel{text: ""}
	b := newTestBuffer(t, DefaultBufferConfig(), model)

	var res *Result
	for i := 0; i < 4; i++ {
		res, _ = b.AddChunk(context.Background(), halfSecondChunk(0))
	}

	if res != nil {
		t.Errorf("Expected nil for empty transcription, got %+v", res)
	}
	if b.Duration() != 0 {
		t.Errorf("Expected buffer reset, got %v", b.Duration())
	}
}

func TestBufferTranscriptionErrorResetsBuffer(t *testing.T) {
	model := &fakeModel{err: &TranscriptionError{Backend: "fake", Err: errors.New("boom")}}
	b := newTestBuffer(t, DefaultBufferConfig(), model)

	var err error
	for i := 0; i < 4; i++ {
		_, err = b.AddChunk(context.Background(), halfSecondChunk(0))
	}

	var terr *TranscriptionError
	if !errors.As(err, &terr) {
		t.Fatalf("Expected TranscriptionError, got %v", err)
	}
	if b.Duration() != 0 {
		t.Errorf("Expected buffer reset after failure, got %v", b.Duration())
	}
}

func TestBufferOverflowKeepsMostRecentChunks(t *testing.T) {
	cfg := DefaultBufferConfig()
	cfg.MinDuration = 5 * time.Second
	cfg.MaxDuration = 5 * time.Second

	model := &fakeModel{text: "hello"}
	b := newTestBuffer(t, cfg, model)

	for i := 0; i < 10; i++ {
		res, err := b.AddChunk(context.Background(), halfSecondChunk(float32(i)/10))
		if err != nil || res != nil {
			t.Fatalf("Chunk %d: expected nil result, got %+v, %v", i, res, err)
		}
	}

	if b.Len() != 5 {
		t.Errorf("Expected 5 chunks after overflow, got %d", b.Len())
	}
	if b.Duration() != 2500*time.Millisecond {
		t.Errorf("Expected recomputed duration 2.5s, got %v", b.Duration())
	}
	if len(model.windows) != 0 {
		t.Errorf("Expected no transcription, got %d calls", len(model.windows))
	}

	// the oldest retained chunk is the sixth one fed
	b.mu.Lock()
	first := b.chunks[0].samples[0]
	b.mu.Unlock()
	if first != 0.5 {
		t.Errorf("Expected oldest retained chunk value 0.5, got %v", first)
	}
}

func TestBufferTrimsWindowToMaxDuration(t *testing.T) {
	cfg := DefaultBufferConfig()
	model := &fakeModel{text: "hello"}
	b := newTestBuffer(t, cfg, model)

	long := audio.Chunk{Samples: make([]float32, 16000*6), Channels: 1, SampleRate: 16000}
	long.Samples[len(long.Samples)-1] = 0.25

	res, err := b.AddChunk(context.Background(), long)
	if err != nil || res == nil {
		t.Fatalf("Expected result, got %+v, %v", res, err)
	}

	w := model.windows[0]
	if len(w.Samples) != 16000*5 {
		t.Errorf("Expected window capped at 80000 samples, got %d", len(w.Samples))
	}
	if w.Samples[len(w.Samples)-1] != 0.25 {
		t.Error("Expected trimming to drop the oldest samples")
	}
}

func TestBufferDownmixesStereo(t *testing.T) {
	model := &fakeModel{text: "hello"}
	b := newTestBuffer(t, DefaultBufferConfig(), model)

	stereo := audio.Chunk{Samples: make([]float32, 2*16000*2), Channels: 2, SampleRate: 16000}
	for i := 0; i < len(stereo.Samples); i += 2 {
		stereo.Samples[i] = 1.0
	}

	if _, err := b.AddChunk(context.Background(), stereo); err != nil {
		t.Fatalf("AddChunk failed: %v", err)
	}

	w := model.windows[0]
	if len(w.Samples) != 32000 {
		t.Fatalf("Expected 32000 mono samples, got %d", len(w.Samples))
	}
	if w.Samples[0] != 0.5 {
		t.Errorf("Expected channel average 0.5, got %v", w.Samples[0])
	}
}

func TestBufferReset(t *testing.T) {
	b := newTestBuffer(t, DefaultBufferConfig(), &fakeModel{})

	b.AddChunk(context.Background(), halfSecondChunk(0))
	b.Reset()

	if b.Duration() != 0 || b.Len() != 0 {
		t.Errorf("Expected empty buffer after reset, got %v in %d chunks", b.Duration(), b.Len())
	}
}

func TestBufferConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*BufferConfig)
		wantErr bool
	}{
		{"defaults", func(c *BufferConfig) {}, false},
		{"min equals max", func(c *BufferConfig) { c.MinDuration = c.MaxDuration }, false},
		{"max below min", func(c *BufferConfig) { c.MaxDuration = time.Second }, true},
		{"zero min", func(c *BufferConfig) { c.MinDuration = 0 }, true},
		{"zero keep", func(c *BufferConfig) { c.KeepChunks = 0 }, true},
		{"zero rate", func(c *BufferConfig) { c.SampleRate = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultBufferConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
