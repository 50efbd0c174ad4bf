//go:build cgo

package capture

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoDriver captures audio through miniaudio
type MalgoDriver struct {
	ctx    *malgo.AllocatedContext
	logger *slog.Logger

	mu    sync.Mutex
	infos map[string]malgo.DeviceInfo
}

// NewDriver initializes the miniaudio context
func NewDriver(logger *slog.Logger) (Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", slog.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}

	return &MalgoDriver{
		ctx:    ctx,
		logger: logger,
		infos:  make(map[string]malgo.DeviceInfo),
	}, nil
}

// Devices implements Driver
func (d *MalgoDriver) Devices() ([]Device, error) {
	infos, err := d.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		id := info.ID.String()
		d.infos[id] = info
		devices = append(devices, Device{
			ID:        id,
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return devices, nil
}

// Probe implements Driver
func (d *MalgoDriver) Probe(dev Device, cfg StreamConfig) error {
	device, err := d.initDevice(dev, cfg, malgo.DeviceCallbacks{})
	if err != nil {
		return err
	}
	device.Uninit()
	return nil
}

// Open implements Driver
func (d *MalgoDriver) Open(dev Device, cfg StreamConfig, onFrames FrameFunc) (Stream, error) {
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			samples := make([]float32, len(input)/4)
			for i := range samples {
				samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
			}
			onFrames(samples, "")
		},
		Stop: func() {
			d.logger.Debug("Capture device stopped", slog.String("device", dev.Name))
		},
	}

	device, err := d.initDevice(dev, cfg, callbacks)
	if err != nil {
		return nil, err
	}
	return &malgoStream{device: device}, nil
}

func (d *MalgoDriver) initDevice(dev Device, cfg StreamConfig, callbacks malgo.DeviceCallbacks) (*malgo.Device, error) {
	d.mu.Lock()
	info, ok := d.infos[dev.ID]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown device %q", dev.Name)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.Capture.DeviceID = info.ID.Pointer()
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(d.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %q: %w", dev.Name, err)
	}
	return device, nil
}

// Close releases the miniaudio context
func (d *MalgoDriver) Close() error {
	if err := d.ctx.Uninit(); err != nil {
		return err
	}
	d.ctx.Free()
	return nil
}

type malgoStream struct {
	device *malgo.Device
}

func (s *malgoStream) Start() error {
	return s.device.Start()
}

func (s *malgoStream) Stop() error {
	return s.device.Stop()
}

func (s *malgoStream) Close() error {
	s.device.Uninit()
	return nil
}
