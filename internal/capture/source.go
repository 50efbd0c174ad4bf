package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/live-caption-service/internal/audio"
)

// LoopbackKeywords identify devices that capture system output rather than a microphone
var LoopbackKeywords = []string{"stereo mix", "wave out", "what u hear", "loopback", "monitor of"}

// DeviceHandle describes the device a Source opened
type DeviceHandle struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	UsingFallbackDevice bool   `json:"using_fallback_device"`
}

// Recorder receives capture metrics
type Recorder interface {
	RecordChunk(source string)
	RecordChunkDropped(source string)
}

// Config contains capture settings
type Config struct {
	DeviceHint    string
	SampleRate    int
	Channels      int
	ChunkDuration time.Duration
	QueueSize     int
}

// DefaultConfig returns 16kHz mono capture in 0.5s chunks
func DefaultConfig() Config {
	return Config{
		SampleRate:    audio.DefaultSampleRate,
		Channels:      1,
		ChunkDuration: audio.DefaultChunkDuration,
		QueueSize:     32,
	}
}

// Source streams a selected input device as fixed-duration chunks
type Source struct {
	driver   Driver
	config   Config
	logger   *slog.Logger
	recorder Recorder

	mu     sync.Mutex
	device *Device
	handle *DeviceHandle
	stream Stream
	queue  *audio.Queue

	// samples not yet forming a full chunk, touched by the driver callback
	pendingMu sync.Mutex
	pending   []float32
}

// NewSource creates a source on top of driver
func NewSource(driver Driver, config Config, logger *slog.Logger) *Source {
	def := DefaultConfig()
	if config.SampleRate <= 0 {
		config.SampleRate = def.SampleRate
	}
	if config.Channels <= 0 {
		config.Channels = def.Channels
	}
	if config.ChunkDuration <= 0 {
		config.ChunkDuration = def.ChunkDuration
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Source{
		driver: driver,
		config: config,
		logger: logger.With(slog.String("component", "capture")),
	}
}

// WithRecorder attaches a metrics recorder
func (s *Source) WithRecorder(r Recorder) *Source {
	s.recorder = r
	return s
}

// Open selects a device using the configured hint
func (s *Source) Open(ctx context.Context) error {
	_, err := s.OpenDevice(s.config.DeviceHint)
	return err
}

// OpenDevice picks the capture device. Devices whose name contains hint are
// tried first, then loopback devices, then the default input. Each candidate
// is probed before it is accepted.
func (s *Source) OpenDevice(hint string) (DeviceHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return *s.handle, nil
	}

	devices, err := s.driver.Devices()
	if err != nil {
		return DeviceHandle{}, fmt.Errorf("%w: %v", ErrNoAudioDevice, err)
	}
	if len(devices) == 0 {
		return DeviceHandle{}, ErrNoAudioDevice
	}

	cfg := StreamConfig{SampleRate: s.config.SampleRate, Channels: s.config.Channels}

	for _, dev := range preferredDevices(devices, hint) {
		if err := s.driver.Probe(dev, cfg); err != nil {
			s.logger.Debug("Device probe failed",
				slog.String("device", dev.Name),
				slog.String("error", err.Error()))
			continue
		}
		return s.choose(dev, false), nil
	}

	if dev, ok := defaultDevice(devices); ok {
		err := s.driver.Probe(dev, cfg)
		if err == nil {
			s.logger.Warn("No loopback device found, capturing from default input instead",
				slog.String("device", dev.Name))
			return s.choose(dev, true), nil
		}
		s.logger.Debug("Default device probe failed",
			slog.String("device", dev.Name),
			slog.String("error", err.Error()))
	}

	return DeviceHandle{}, ErrNoAudioDevice
}

func (s *Source) choose(dev Device, fallback bool) DeviceHandle {
	s.device = &dev
	s.handle = &DeviceHandle{ID: dev.ID, Name: dev.Name, UsingFallbackDevice: fallback}
	s.logger.Info("Capture device selected",
		slog.String("device", dev.Name),
		slog.Bool("fallback", fallback))
	return *s.handle
}

// Handle returns the selected device, or nil before Open
func (s *Source) Handle() *DeviceHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil
	}
	h := *s.handle
	return &h
}

// Stream starts capturing. onChunk runs on a dedicated worker goroutine,
// never on the driver callback.
func (s *Source) Stream(onChunk func(audio.Chunk)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return errors.New("no device opened")
	}
	if s.stream != nil {
		return errors.New("stream already running")
	}

	queue := audio.NewQueue(s.config.QueueSize)
	cfg := StreamConfig{SampleRate: s.config.SampleRate, Channels: s.config.Channels}

	stream, err := s.driver.Open(*s.device, cfg, func(samples []float32, status string) {
		s.onFrames(queue, samples, status)
	})
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}

	queue.Run(onChunk)
	if err := stream.Start(); err != nil {
		queue.Close()
		stream.Close()
		return fmt.Errorf("failed to start stream: %w", err)
	}

	s.stream = stream
	s.queue = queue
	return nil
}

// onFrames runs on the driver callback and must not block.
func (s *Source) onFrames(queue *audio.Queue, samples []float32, status string) {
	if status != "" {
		s.logger.Warn("Capture status", slog.String("status", status))
	}

	frameSamples := audio.FramesFor(s.config.ChunkDuration, s.config.SampleRate) * s.config.Channels

	s.pendingMu.Lock()
	s.pending = append(s.pending, samples...)
	var ready [][]float32
	for len(s.pending) >= frameSamples {
		chunk := make([]float32, frameSamples)
		copy(chunk, s.pending[:frameSamples])
		ready = append(ready, chunk)
		s.pending = s.pending[frameSamples:]
	}
	s.pendingMu.Unlock()

	for _, samples := range ready {
		c := audio.Chunk{
			Samples:    samples,
			Channels:   s.config.Channels,
			SampleRate: s.config.SampleRate,
			Status:     status,
			ReceivedAt: time.Now(),
		}
		if !queue.Push(c) {
			if queue.Closed() {
				return
			}
			s.logger.Warn("Chunk queue full, dropping audio", slog.Int("queue_size", s.config.QueueSize))
			if s.recorder != nil {
				s.recorder.RecordChunkDropped("capture")
			}
			continue
		}
		if s.recorder != nil {
			s.recorder.RecordChunk("capture")
		}
	}
}

// Close stops the stream, releases the device and discards queued chunks.
// It is safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	stream, queue := s.stream, s.queue
	s.stream, s.queue = nil, nil
	s.device, s.handle = nil, nil
	s.mu.Unlock()

	var errs []error
	if stream != nil {
		if err := stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop stream: %w", err))
		}
		if err := stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stream: %w", err))
		}
	}
	if queue != nil {
		queue.Close()
	}

	s.pendingMu.Lock()
	s.pending = nil
	s.pendingMu.Unlock()

	return errors.Join(errs...)
}

// ListDevices returns the input devices reported by the driver
func (s *Source) ListDevices() ([]Device, error) {
	return s.driver.Devices()
}

func preferredDevices(devices []Device, hint string) []Device {
	hint = strings.ToLower(strings.TrimSpace(hint))
	var out []Device
	seen := make(map[string]bool)

	add := func(dev Device) {
		if !seen[dev.ID] {
			seen[dev.ID] = true
			out = append(out, dev)
		}
	}

	if hint != "" {
		for _, dev := range devices {
			if strings.Contains(strings.ToLower(dev.Name), hint) {
				add(dev)
			}
		}
	}
	for _, dev := range devices {
		if isLoopback(dev.Name) {
			add(dev)
		}
	}
	return out
}

func isLoopback(name string) bool {
	name = strings.ToLower(name)
	for _, kw := range LoopbackKeywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

func defaultDevice(devices []Device) (Device, bool) {
	for _, dev := range devices {
		if dev.IsDefault {
			return dev, true
		}
	}
	if len(devices) > 0 {
		return devices[0], true
	}
	return Device{}, false
}
