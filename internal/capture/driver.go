package capture

import "errors"

// ErrNoAudioDevice is returned when no usable input device exists
var ErrNoAudioDevice = errors.New("no usable audio input device")

// Device describes an input-capable device reported by a Driver
type Device struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// StreamConfig is the format requested from the driver
type StreamConfig struct {
	SampleRate int
	Channels   int
}

// FrameFunc receives interleaved float32 frames from the driver callback.
// status carries a non-fatal hardware flag and is usually empty.
type FrameFunc func(samples []float32, status string)

// Stream is an opened device stream
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Driver is the platform audio layer
type Driver interface {
	Devices() ([]Device, error)
	// Probe opens and immediately closes the device to check it is usable
	Probe(dev Device, cfg StreamConfig) error
	Open(dev Device, cfg StreamConfig, onFrames FrameFunc) (Stream, error)
	Close() error
}
