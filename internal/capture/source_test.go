package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/live-caption-service/internal/audio"
)

type fakeStream struct {
	started, stopped, closed bool
}

func (s *fakeStream) Start() error { s.started = true; return nil }
func (s *fakeStream) Stop() error  { s.stopped = true; return nil }
func (s *fakeStream) Close() error { s.closed = true; return nil }

type fakeDriver struct {
	devices  []Device
	listErr  error
	broken   map[string]bool
	probed   []string
	stream   *fakeStream
	onFrames FrameFunc
}

func (d *fakeDriver) Devices() ([]Device, error) { return d.devices, d.listErr }

func (d *fakeDriver) Probe(dev Device, cfg StreamConfig) error {
	d.probed = append(d.probed, dev.Name)
	if d.broken[dev.ID] {
		return errors.New("device busy")
	}
	return nil
}

func (d *fakeDriver) Open(dev Device, cfg StreamConfig, onFrames FrameFunc) (Stream, error) {
	d.onFrames = onFrames
	d.stream = &fakeStream{}
	return d.stream, nil
}

func (d *fakeDriver) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var (
	mic     = Device{ID: "1", Name: "Built-in Microphone", IsDefault: true}
	stereo  = Device{ID: "2", Name: "Stereo Mix (Realtek Audio)"}
	monitor = Device{ID: "3", Name: "Monitor of Built-in Audio"}
	headset = Device{ID: "4", Name: "USB Headset"}
)

func TestOpenDeviceSelection(t *testing.T) {
	tests := []struct {
		name         string
		devices      []Device
		broken       map[string]bool
		hint         string
		wantDevice   string
		wantFallback bool
		wantErr      error
	}{
		{"loopback preferred", []Device{mic, stereo}, nil, "", stereo.Name, false, nil},
		{"pulse monitor", []Device{mic, monitor}, nil, "", monitor.Name, false, nil},
		{"hint wins", []Device{mic, stereo, headset}, nil, "headset", headset.Name, false, nil},
		{"hint is case insensitive", []Device{mic, stereo, headset}, nil, "USB", headset.Name, false, nil},
		{"broken loopback skipped", []Device{mic, stereo, monitor}, map[string]bool{"2": true}, "", monitor.Name, false, nil},
		{"fallback to default", []Device{headset, mic}, nil, "", mic.Name, true, nil},
		{"fallback when loopback broken", []Device{mic, stereo}, map[string]bool{"2": true}, "", mic.Name, true, nil},
		{"no devices", nil, nil, "", "", false, ErrNoAudioDevice},
		{"everything broken", []Device{mic, stereo}, map[string]bool{"1": true, "2": true}, "", "", false, ErrNoAudioDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver := &fakeDriver{devices: tt.devices, broken: tt.broken}
			source := NewSource(driver, DefaultConfig(), testLogger())

			handle, err := source.OpenDevice(tt.hint)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				if source.Handle() != nil {
					t.Error("Expected no handle after failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenDevice failed: %v", err)
			}

			if handle.Name != tt.wantDevice {
				t.Errorf("Expected device %q, got %q", tt.wantDevice, handle.Name)
			}
			if handle.UsingFallbackDevice != tt.wantFallback {
				t.Errorf("Expected fallback=%v, got %v", tt.wantFallback, handle.UsingFallbackDevice)
			}
		})
	}
}

func TestOpenDeviceEnumerationError(t *testing.T) {
	driver := &fakeDriver{listErr: errors.New("no backend")}
	source := NewSource(driver, DefaultConfig(), testLogger())

	if err := source.Open(context.Background()); !errors.Is(err, ErrNoAudioDevice) {
		t.Errorf("Expected ErrNoAudioDevice, got %v", err)
	}
}

func TestStreamFramesFixedChunks(t *testing.T) {
	driver := &fakeDriver{devices: []Device{stereo}}
	source := NewSource(driver, DefaultConfig(), testLogger())

	if _, err := source.OpenDevice(""); err != nil {
		t.Fatalf("OpenDevice failed: %v", err)
	}

	var mu sync.Mutex
	var chunks []audio.Chunk
	got := make(chan struct{}, 10)

	if err := source.Stream(func(c audio.Chunk) {
		mu.Lock()
		chunks = append(chunks, c)
		mu.Unlock()
		got <- struct{}{}
	}); err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if !driver.stream.started {
		t.Fatal("Expected stream to be started")
	}

	// 1.25s of audio in uneven driver buffers yields two 0.5s chunks
	for _, n := range []int{3000, 7000, 4000, 6000} {
		driver.onFrames(make([]float32, n), "")
	}

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for chunk %d", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c.Samples) != 8000 || c.SampleRate != 16000 {
			t.Errorf("Unexpected chunk shape: %d samples at %d Hz", len(c.Samples), c.SampleRate)
		}
		if c.Duration() != 500*time.Millisecond {
			t.Errorf("Expected 0.5s chunk, got %v", c.Duration())
		}
	}
}

func TestStreamStatusIsNotFatal(t *testing.T) {
	driver := &fakeDriver{devices: []Device{stereo}}
	source := NewSource(driver, DefaultConfig(), testLogger())
	source.OpenDevice("")

	got := make(chan audio.Chunk, 1)
	source.Stream(func(c audio.Chunk) { got <- c })

	driver.onFrames(make([]float32, 8000), "input overflow")

	select {
	case c := <-got:
		if c.Status != "input overflow" {
			t.Errorf("Expected status to be carried, got %q", c.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Chunk with status flag was not delivered")
	}
}

func TestCloseReleasesDevice(t *testing.T) {
	driver := &fakeDriver{devices: []Device{stereo}}
	source := NewSource(driver, DefaultConfig(), testLogger())
	source.OpenDevice("")

	delivered := make(chan struct{}, 10)
	source.Stream(func(c audio.Chunk) { delivered <- struct{}{} })

	if err := source.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !driver.stream.stopped || !driver.stream.closed {
		t.Error("Expected stream stopped and closed")
	}
	if source.Handle() != nil {
		t.Error("Expected handle cleared after close")
	}

	// late driver callbacks after close are ignored
	driver.onFrames(make([]float32, 8000), "")
	select {
	case <-delivered:
		t.Error("Chunk delivered after close")
	case <-time.After(50 * time.Millisecond):
	}

	if err := source.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestStreamWithoutDevice(t *testing.T) {
	source := NewSource(&fakeDriver{}, DefaultConfig(), testLogger())
	if err := source.Stream(func(audio.Chunk) {}); err == nil {
		t.Error("Expected error streaming without an opened device")
	}
}
