package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// DefaultThreshold is the RMS level above which a chunk counts as voice
const DefaultThreshold = 0.01

// Result describes one measured chunk
type Result struct {
	Level    float32 `json:"level"` // RMS, 0..1
	HasVoice bool    `json:"has_voice"`
}

// Stats summarises the chunks seen since the last reset
type Stats struct {
	TotalChunks     uint64    `json:"total_chunks"`
	VoiceChunks     uint64    `json:"voice_chunks"`
	VoicePercentage float64   `json:"voice_percentage"`
	Level           float32   `json:"level"` // smoothed
	Threshold       float32   `json:"threshold"`
	LastProcessed   time.Time `json:"last_processed"`
}

// Meter tracks signal energy of a chunk stream
type Meter struct {
	threshold float32
	smoothing float32

	mu            sync.RWMutex
	level         float32
	totalChunks   uint64
	voiceChunks   uint64
	lastProcessed time.Time
}

// NewMeter creates a meter that flags chunks whose RMS reaches threshold
func NewMeter(threshold float32) (*Meter, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}
	return &Meter{threshold: threshold, smoothing: 0.3}, nil
}

// Process measures samples in [-1, 1]
func (m *Meter) Process(samples []float32) Result {
	level := rms(samples)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.totalChunks == 0 {
		m.level = level
	} else {
		m.level = m.smoothing*level + (1-m.smoothing)*m.level
	}

	hasVoice := len(samples) > 0 && level >= m.threshold
	m.totalChunks++
	if hasVoice {
		m.voiceChunks++
	}
	m.lastProcessed = time.Now()

	return Result{Level: level, HasVoice: hasVoice}
}

func rms(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	v := math.Sqrt(energy / float64(len(samples)))
	if v > 1 {
		v = 1
	}
	return float32(v)
}

// Stats returns a snapshot of the meter
func (m *Meter) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pct float64
	if m.totalChunks > 0 {
		pct = float64(m.voiceChunks) / float64(m.totalChunks) * 100
	}
	return Stats{
		TotalChunks:     m.totalChunks,
		VoiceChunks:     m.voiceChunks,
		VoicePercentage: pct,
		Level:           m.level,
		Threshold:       m.threshold,
		LastProcessed:   m.lastProcessed,
	}
}

// UpdateThreshold changes the voice threshold
func (m *Meter) UpdateThreshold(threshold float32) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = threshold
	return nil
}

// Reset clears counters and the smoothed level
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = 0
	m.totalChunks = 0
	m.voiceChunks = 0
	m.lastProcessed = time.Time{}
}
