package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/skypro1111/live-caption-service/internal/audio"
)

const (
	// BytesPerSample is the size of one float32 sample on the wire
	BytesPerSample = 4

	// MaxFrameDuration bounds a single inbound frame
	MaxFrameDuration = 10 * time.Second
)

var (
	ErrEmptyFrame      = errors.New("empty frame")
	ErrMisalignedFrame = errors.New("frame length is not a multiple of 4 bytes")
	ErrFrameTooLarge   = errors.New("frame exceeds maximum duration")
	ErrInvalidSample   = errors.New("frame contains NaN or Inf samples")
)

// MaxFrameBytes returns the largest accepted frame size at sampleRate
func MaxFrameBytes(sampleRate int) int {
	return audio.FramesFor(MaxFrameDuration, sampleRate) * BytesPerSample
}

// ValidateFrame checks the framing of a raw message without decoding it
func ValidateFrame(data []byte, sampleRate int) error {
	if len(data) == 0 {
		return ErrEmptyFrame
	}
	if len(data)%BytesPerSample != 0 {
		return fmt.Errorf("%w: got %d bytes", ErrMisalignedFrame, len(data))
	}
	if limit := MaxFrameBytes(sampleRate); limit > 0 && len(data) > limit {
		return fmt.Errorf("%w: %d bytes > %d", ErrFrameTooLarge, len(data), limit)
	}
	return nil
}

// DecodeFrame parses one inbound message into a mono chunk
func DecodeFrame(data []byte, sampleRate int) (audio.Chunk, error) {
	if err := ValidateFrame(data, sampleRate); err != nil {
		return audio.Chunk{}, err
	}

	samples := make([]float32, len(data)/BytesPerSample)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(data[i*BytesPerSample:])
		v := math.Float32frombits(bits)
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return audio.Chunk{}, fmt.Errorf("%w: sample %d", ErrInvalidSample, i)
		}
		samples[i] = v
	}

	return audio.Chunk{
		Samples:    samples,
		Channels:   1,
		SampleRate: sampleRate,
		ReceivedAt: time.Now(),
	}, nil
}

// EncodeFrame serializes mono samples into the wire format
func EncodeFrame(samples []float32) []byte {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(data[i*BytesPerSample:], math.Float32bits(s))
	}
	return data
}

// SplitFrames cuts mono samples into frames of frameDuration each.
// The trailing partial frame is kept.
func SplitFrames(samples []float32, sampleRate int, frameDuration time.Duration) [][]float32 {
	size := audio.FramesFor(frameDuration, sampleRate)
	if size <= 0 {
		return nil
	}

	frames := make([][]float32, 0, len(samples)/size+1)
	for start := 0; start < len(samples); start += size {
		end := start + size
		if end > len(samples) {
			end = len(samples)
		}
		frames = append(frames, samples[start:end])
	}
	return frames
}
