package audio

import (
	"math"
	"time"
)

const (
	// DefaultSampleRate is the capture rate expected by the speech model.
	DefaultSampleRate = 16000

	// DefaultChunkDuration is the capture cadence of AudioSource.
	DefaultChunkDuration = 500 * time.Millisecond
)

// Chunk is a fixed-duration block of captured samples.
// Samples are interleaved when Channels > 1.
type Chunk struct {
	Samples    []float32
	Channels   int
	SampleRate int
	Status     string // non-fatal hardware flag (overflow, underflow), empty when clean
	ReceivedAt time.Time
}

// Window is a contiguous mono span of audio handed to the transcriber.
type Window struct {
	Samples    []float32
	SampleRate int
}

// Frames returns the number of sample frames (samples per channel).
func (c Chunk) Frames() int {
	if c.Channels <= 1 {
		return len(c.Samples)
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the playback duration of the chunk.
func (c Chunk) Duration() time.Duration {
	return FramesDuration(c.Frames(), c.SampleRate)
}

// Mono returns the chunk flattened to a single channel by averaging
// the channels of every frame. Mono input is copied as-is.
func (c Chunk) Mono() []float32 {
	if c.Channels <= 1 {
		out := make([]float32, len(c.Samples))
		copy(out, c.Samples)
		return out
	}

	frames := c.Frames()
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		base := i * c.Channels
		for ch := 0; ch < c.Channels; ch++ {
			sum += c.Samples[base+ch]
		}
		out[i] = sum / float32(c.Channels)
	}
	return out
}

// Duration returns the playback duration of the window.
func (w Window) Duration() time.Duration {
	return FramesDuration(len(w.Samples), w.SampleRate)
}

// FramesDuration converts a frame count at sampleRate into a duration.
func FramesDuration(frames, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// FramesFor returns how many frames make up d at sampleRate.
func FramesFor(d time.Duration, sampleRate int) int {
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	return peak
}

// Normalize rescales samples in place so the peak amplitude is at most 1.0.
// Quiet audio is left untouched.
func Normalize(samples []float32) {
	peak := Peak(samples)
	if peak <= 1.0 {
		return
	}
	for i := range samples {
		samples[i] /= peak
	}
}
