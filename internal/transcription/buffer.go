package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/live-caption-service/internal/audio"
)

// BufferConfig controls how much audio is collected before transcription
type BufferConfig struct {
	MinDuration time.Duration // readiness threshold
	MaxDuration time.Duration // overflow threshold and window cap
	KeepChunks  int           // chunks retained on overflow
	SampleRate  int           // used for chunks that carry no rate
}

// DefaultBufferConfig returns the 2s/5s policy with 5 chunks kept on overflow
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		MinDuration: 2 * time.Second,
		MaxDuration: 5 * time.Second,
		KeepChunks:  5,
		SampleRate:  audio.DefaultSampleRate,
	}
}

// Validate checks the buffer thresholds
func (c BufferConfig) Validate() error {
	if c.MinDuration <= 0 {
		return fmt.Errorf("min duration must be positive")
	}
	if c.MaxDuration < c.MinDuration {
		return fmt.Errorf("max duration (%v) must not be less than min duration (%v)", c.MaxDuration, c.MinDuration)
	}
	if c.KeepChunks <= 0 {
		return fmt.Errorf("keep chunks must be positive")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	return nil
}

type bufferedChunk struct {
	samples    []float32
	sampleRate int
}

func (c bufferedChunk) duration() time.Duration {
	return audio.FramesDuration(len(c.samples), c.sampleRate)
}

// Buffer accumulates mono audio until MinDuration is reached, then
// transcribes the collected window and starts over.
type Buffer struct {
	cfg    BufferConfig
	model  Model
	logger *slog.Logger

	chunks []bufferedChunk
	total  time.Duration

	mu sync.Mutex
}

// NewBuffer creates a transcription buffer feeding model
func NewBuffer(cfg BufferConfig, model Model, logger *slog.Logger) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid buffer config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		cfg:    cfg,
		model:  model,
		logger: logger,
	}, nil
}

// AddChunk appends a chunk and transcribes the buffered audio once it
// reaches MinDuration. It returns nil when not enough audio is buffered yet
// or when the recognized text is empty.
func (b *Buffer) AddChunk(ctx context.Context, c audio.Chunk) (*Result, error) {
	rate := c.SampleRate
	if rate <= 0 {
		rate = b.cfg.SampleRate
	}
	entry := bufferedChunk{samples: c.Mono(), sampleRate: rate}

	window, ready := b.append(entry)
	if !ready {
		return nil, nil
	}

	b.logger.Debug("Transcribing buffered window",
		slog.Duration("duration", window.Duration()),
		slog.Int("samples", len(window.Samples)))

	res, err := b.model.Transcribe(ctx, window)
	if err != nil {
		return nil, err
	}
	if res.Text == "" {
		return nil, nil
	}
	return &res, nil
}

// append stores the chunk and, when ready, takes the window and clears the buffer.
func (b *Buffer) append(entry bufferedChunk) (audio.Window, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, entry)
	b.total += entry.duration()

	if b.total >= b.cfg.MaxDuration {
		if len(b.chunks) > b.cfg.KeepChunks {
			dropped := len(b.chunks) - b.cfg.KeepChunks
			kept := make([]bufferedChunk, b.cfg.KeepChunks)
			copy(kept, b.chunks[dropped:])
			b.chunks = kept
			b.logger.Warn("Transcription buffer overflow, dropping oldest audio",
				slog.Int("dropped_chunks", dropped))
		}
		b.total = 0
		for _, ch := range b.chunks {
			b.total += ch.duration()
		}
	}

	if b.total < b.cfg.MinDuration {
		return audio.Window{}, false
	}

	rate := b.chunks[0].sampleRate
	frames := 0
	for _, ch := range b.chunks {
		frames += len(ch.samples)
	}
	samples := make([]float32, 0, frames)
	for _, ch := range b.chunks {
		samples = append(samples, ch.samples...)
	}

	if limit := audio.FramesFor(b.cfg.MaxDuration, rate); len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}

	b.chunks = nil
	b.total = 0

	return audio.Window{Samples: samples, SampleRate: rate}, true
}

// Reset discards all buffered audio
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.total = 0
}

// Duration returns the amount of audio currently buffered
func (b *Buffer) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Len returns the number of buffered chunks
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}
