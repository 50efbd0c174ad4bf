package audio

import (
	"testing"
	"time"
)

func TestChunkDuration(t *testing.T) {
	tests := []struct {
		name     string
		chunk    Chunk
		expected time.Duration
	}{
		{"mono half second", Chunk{Samples: make([]float32, 8000), Channels: 1, SampleRate: 16000}, 500 * time.Millisecond},
		{"stereo half second", Chunk{Samples: make([]float32, 16000), Channels: 2, SampleRate: 16000}, 500 * time.Millisecond},
		{"zero channels treated as mono", Chunk{Samples: make([]float32, 16000), SampleRate: 16000}, time.Second},
		{"no sample rate", Chunk{Samples: make([]float32, 100), Channels: 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.chunk.Duration(); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestChunkMonoAveragesChannels(t *testing.T) {
	c := Chunk{
		Samples:    []float32{1.0, 0.0, 0.5, 0.5, -1.0, 1.0},
		Channels:   2,
		SampleRate: 16000,
	}

	mono := c.Mono()
	expected := []float32{0.5, 0.5, 0.0}
	if len(mono) != len(expected) {
		t.Fatalf("Expected %d frames, got %d", len(expected), len(mono))
	}
	for i := range expected {
		if mono[i] != expected[i] {
			t.Errorf("Frame %d: expected %v, got %v", i, expected[i], mono[i])
		}
	}
}

func TestChunkMonoCopies(t *testing.T) {
	c := Chunk{Samples: []float32{0.25}, Channels: 1, SampleRate: 16000}
	mono := c.Mono()
	mono[0] = 1
	if c.Samples[0] != 0.25 {
		t.Error("Mono must not alias the chunk samples")
	}
}

func TestFramesFor(t *testing.T) {
	if got := FramesFor(DefaultChunkDuration, DefaultSampleRate); got != 8000 {
		t.Errorf("Expected 8000 frames, got %d", got)
	}
	if got := FramesFor(5*time.Second, 16000); got != 80000 {
		t.Errorf("Expected 80000 frames, got %d", got)
	}
}

func TestNormalize(t *testing.T) {
	loud := []float32{2.0, -4.0, 1.0}
	Normalize(loud)
	if Peak(loud) != 1.0 {
		t.Errorf("Expected peak 1.0 after normalize, got %v", Peak(loud))
	}
	if loud[0] != 0.5 || loud[1] != -1.0 || loud[2] != 0.25 {
		t.Errorf("Unexpected normalized samples: %v", loud)
	}

	quiet := []float32{0.1, -0.2}
	Normalize(quiet)
	if quiet[0] != 0.1 || quiet[1] != -0.2 {
		t.Errorf("Quiet audio must not be amplified, got %v", quiet)
	}

	silence := make([]float32, 4)
	Normalize(silence)
	for _, s := range silence {
		if s != 0 {
			t.Fatalf("Silence changed: %v", silence)
		}
	}
}
