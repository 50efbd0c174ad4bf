package vad

import (
	"math"
	"sync"
	"testing"
)

func constant(n int, v float32) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return samples
}

func TestNewMeterValidation(t *testing.T) {
	tests := []struct {
		name      string
		threshold float32
		expectErr bool
	}{
		{name: "default", threshold: DefaultThreshold},
		{name: "zero", threshold: 0},
		{name: "one", threshold: 1},
		{name: "negative", threshold: -0.1, expectErr: true},
		{name: "above one", threshold: 1.5, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMeter(tt.threshold)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestVoiceActivity(t *testing.T) {
	tests := []struct {
		name        string
		samples     []float32
		expectVoice bool
	}{
		{name: "silence", samples: make([]float32, 8000), expectVoice: false},
		{name: "empty", samples: nil, expectVoice: false},
		{name: "low energy", samples: constant(8000, 0.001), expectVoice: false},
		{name: "high energy", samples: constant(8000, 0.25), expectVoice: true},
		{name: "alternating", samples: func() []float32 {
			s := constant(8000, 0.2)
			for i := 1; i < len(s); i += 2 {
				s[i] = -0.2
			}
			return s
		}(), expectVoice: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMeter(DefaultThreshold)
			if err != nil {
				t.Fatalf("Failed to create meter: %v", err)
			}
			res := m.Process(tt.samples)
			if res.HasVoice != tt.expectVoice {
				t.Errorf("Expected voice=%v, got %v (level %.4f)", tt.expectVoice, res.HasVoice, res.Level)
			}
		})
	}
}

func TestLevelIsRMS(t *testing.T) {
	m, _ := NewMeter(DefaultThreshold)
	res := m.Process(constant(100, 0.5))
	if math.Abs(float64(res.Level)-0.5) > 1e-6 {
		t.Errorf("Expected level 0.5, got %f", res.Level)
	}

	res = m.Process(constant(100, 3))
	if res.Level != 1 {
		t.Errorf("Expected level clipped to 1, got %f", res.Level)
	}
}

func TestStatsAndReset(t *testing.T) {
	m, _ := NewMeter(DefaultThreshold)

	m.Process(constant(100, 0.5))
	m.Process(make([]float32, 100))
	m.Process(make([]float32, 100))
	m.Process(constant(100, 0.5))

	stats := m.Stats()
	if stats.TotalChunks != 4 || stats.VoiceChunks != 2 {
		t.Errorf("Expected 2 of 4 voice chunks, got %d of %d", stats.VoiceChunks, stats.TotalChunks)
	}
	if stats.VoicePercentage != 50 {
		t.Errorf("Expected 50%%, got %f", stats.VoicePercentage)
	}
	if stats.Level <= 0 || stats.Level >= 0.5 {
		t.Errorf("Expected smoothed level between 0 and 0.5, got %f", stats.Level)
	}
	if stats.LastProcessed.IsZero() {
		t.Error("Expected last processed time to be set")
	}

	m.Reset()
	stats = m.Stats()
	if stats.TotalChunks != 0 || stats.Level != 0 || stats.VoicePercentage != 0 {
		t.Errorf("Expected cleared stats, got %+v", stats)
	}
}

func TestUpdateThreshold(t *testing.T) {
	m, _ := NewMeter(DefaultThreshold)
	if err := m.UpdateThreshold(0.6); err != nil {
		t.Fatalf("Failed to update threshold: %v", err)
	}
	if m.Process(constant(100, 0.5)).HasVoice {
		t.Error("Expected 0.5 RMS to be below a 0.6 threshold")
	}
	if err := m.UpdateThreshold(2); err == nil {
		t.Error("Expected error for threshold above 1")
	}
	if m.Stats().Threshold != 0.6 {
		t.Errorf("Expected threshold to stay 0.6, got %f", m.Stats().Threshold)
	}
}

func TestConcurrentProcessing(t *testing.T) {
	m, _ := NewMeter(DefaultThreshold)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.Process(constant(160, 0.1))
				_ = m.Stats()
			}
		}()
	}
	wg.Wait()

	if got := m.Stats().TotalChunks; got != 400 {
		t.Errorf("Expected 400 chunks, got %d", got)
	}
}
