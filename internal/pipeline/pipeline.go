package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/live-caption-service/internal/audio"
	"github.com/skypro1111/live-caption-service/internal/caption"
	"github.com/skypro1111/live-caption-service/internal/capture"
	"github.com/skypro1111/live-caption-service/internal/transcription"
	"github.com/skypro1111/live-caption-service/internal/translation"
	"github.com/skypro1111/live-caption-service/internal/vad"
)

// State is the lifecycle state of a pipeline
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Mode selects where audio comes from
type Mode string

const (
	ModeLocal   Mode = "local"   // system audio capture
	ModeNetwork Mode = "network" // frames pushed over a websocket
)

// Producer delivers audio chunks to the pipeline
type Producer interface {
	Open(ctx context.Context) error
	// Stream starts delivery; onChunk runs on a single worker goroutine
	Stream(onChunk func(audio.Chunk)) error
	Close() error
}

// ProducerFactory builds a fresh producer for every Start
type ProducerFactory func() (Producer, error)

type deviceReporter interface {
	Handle() *capture.DeviceHandle
}

type backendStatsReporter interface {
	BackendStats() (transcription.BackendStats, bool)
}

// Translator is the translation contract used by the pipeline
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (translation.Result, error)
	SetAIEnabled(enabled bool)
	AIEnabled() bool
}

// Recorder receives pipeline metrics
type Recorder interface {
	SetPipelineState(state string)
	RecordCaption()
	RecordCycleError(stage string)
	ObserveTranscription(duration time.Duration)
	ObserveInputLevel(level float64)
}

// Config contains pipeline settings
type Config struct {
	Mode           Mode
	TargetLanguage string
	Buffer         transcription.BufferConfig
	VoiceThreshold float32 // RMS level counted as voice, 0 uses vad.DefaultThreshold
}

// Status is a snapshot for the status API
type Status struct {
	State               string                      `json:"state"`
	Mode                Mode                        `json:"mode"`
	TargetLanguage      string                      `json:"target_language"`
	AIEnabled           bool                        `json:"ai_enabled"`
	Device              *capture.DeviceHandle       `json:"device,omitempty"`
	StartedAt           *time.Time                  `json:"started_at,omitempty"`
	BufferedSeconds     float64                     `json:"buffered_seconds"`
	ChunksProcessed     uint64                      `json:"chunks_processed"`
	CaptionsEmitted     uint64                      `json:"captions_emitted"`
	TranscriptionErrors uint64                      `json:"transcription_errors"`
	TranslationErrors   uint64                      `json:"translation_errors"`
	Voice               vad.Stats                   `json:"voice"`
	Transcription       *transcription.BackendStats `json:"transcription,omitempty"`
}

// Pipeline turns a stream of audio chunks into caption events
type Pipeline struct {
	config      Config
	newProducer ProducerFactory
	model       transcription.Model
	translator  Translator
	buffer      *transcription.Buffer
	meter       *vad.Meter
	sink        caption.Sink
	logger      *slog.Logger
	recorder    Recorder

	target atomic.Value // string

	mu        sync.Mutex
	state     State
	gen       uint64
	producer  Producer
	startedAt time.Time
	workerCtx context.Context

	chunks              atomic.Uint64
	captions            atomic.Uint64
	transcriptionErrors atomic.Uint64
	translationErrors   atomic.Uint64
}

// New creates an idle pipeline
func New(config Config, newProducer ProducerFactory, model transcription.Model, translator Translator, sink caption.Sink, logger *slog.Logger) (*Pipeline, error) {
	if newProducer == nil {
		return nil, errors.New("producer factory is required")
	}
	if model == nil || translator == nil || sink == nil {
		return nil, errors.New("model, translator and sink are required")
	}
	if config.Mode == "" {
		config.Mode = ModeLocal
	}
	if strings.TrimSpace(config.TargetLanguage) == "" {
		config.TargetLanguage = "ta"
	}
	if logger == nil {
		logger = slog.Default()
	}

	buffer, err := transcription.NewBuffer(config.Buffer, model, logger)
	if err != nil {
		return nil, err
	}
	if config.VoiceThreshold == 0 {
		config.VoiceThreshold = vad.DefaultThreshold
	}
	meter, err := vad.NewMeter(config.VoiceThreshold)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		config:      config,
		newProducer: newProducer,
		model:       model,
		translator:  translator,
		buffer:      buffer,
		meter:       meter,
		sink:        sink,
		logger:      logger.With(slog.String("component", "pipeline"), slog.String("mode", string(config.Mode))),
		workerCtx:   context.Background(),
	}
	p.target.Store(config.TargetLanguage)
	return p, nil
}

// WithRecorder attaches a metrics recorder
func (p *Pipeline) WithRecorder(r Recorder) *Pipeline {
	p.recorder = r
	if r != nil {
		r.SetPipelineState(p.State().String())
	}
	return p
}

// Start opens the producer, loads the speech model and begins streaming.
// It blocks until the model is loaded. Failures are reported to the sink
// as an ErrorEvent and leave the pipeline Idle.
func (p *Pipeline) Start(ctx context.Context) bool {
	p.mu.Lock()
	if p.state != StateIdle {
		state := p.state
		p.mu.Unlock()
		p.logger.Warn("Start ignored", slog.String("state", state.String()))
		return false
	}
	p.gen++
	gen := p.gen
	p.setStateLocked(StateStarting)
	// in-flight work must outlive the caller's request context
	p.workerCtx = context.WithoutCancel(ctx)
	p.mu.Unlock()

	p.logger.Info("Starting caption pipeline", slog.String("target_language", p.TargetLanguage()))
	p.meter.Reset()

	producer, err := p.newProducer()
	if err != nil {
		p.failStart(gen, nil, fmt.Sprintf("Failed to create audio source: %v", err))
		return false
	}

	if err := producer.Open(ctx); err != nil {
		msg := fmt.Sprintf("Failed to open audio source: %v", err)
		if errors.Is(err, capture.ErrNoAudioDevice) {
			msg = "No audio input device available. Enable a loopback device such as Stereo Mix or connect a microphone."
		}
		p.failStart(gen, producer, msg)
		return false
	}

	if r, ok := producer.(deviceReporter); ok {
		if h := r.Handle(); h != nil && h.UsingFallbackDevice {
			p.logger.Warn("Capturing from the default input device; captions will follow the microphone, not system audio",
				slog.String("device", h.Name))
		}
	}

	if !p.attach(gen, producer) {
		producer.Close()
		return false
	}

	if err := p.model.LoadModel(ctx); err != nil {
		p.failStart(gen, producer, fmt.Sprintf("Failed to load speech model: %v", err))
		return false
	}

	if err := producer.Stream(func(c audio.Chunk) { p.handleChunk(gen, c) }); err != nil {
		p.failStart(gen, producer, fmt.Sprintf("Failed to start audio stream: %v", err))
		return false
	}

	p.mu.Lock()
	if p.gen != gen || p.state != StateStarting {
		p.mu.Unlock()
		producer.Close()
		p.logger.Info("Pipeline stopped during start")
		return false
	}
	p.startedAt = time.Now()
	p.setStateLocked(StateActive)
	p.mu.Unlock()

	p.logger.Info("Caption pipeline active")
	return true
}

// attach records the producer so Stop can close it. It fails when Stop ran meanwhile.
func (p *Pipeline) attach(gen uint64, producer Producer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen || p.state != StateStarting {
		return false
	}
	p.producer = producer
	return true
}

func (p *Pipeline) failStart(gen uint64, producer Producer, msg string) {
	p.logger.Error("Caption pipeline failed to start", slog.String("error", msg))

	if producer != nil {
		if err := producer.Close(); err != nil {
			p.logger.Warn("Failed to close audio source", slog.String("error", err.Error()))
		}
	}

	p.mu.Lock()
	current := p.gen == gen && p.state == StateStarting
	if current {
		p.producer = nil
		p.setStateLocked(StateIdle)
	}
	p.mu.Unlock()

	// a superseded attempt must not touch the newer session's buffer
	if current {
		p.buffer.Reset()
		p.sink.OnError(caption.NewErrorEvent(msg))
	}
}

// Stop halts audio delivery and clears buffered audio. A translation in
// progress finishes but its caption is discarded. Stop is idempotent.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.state == StateIdle || p.state == StateStopping {
		p.mu.Unlock()
		return
	}
	p.gen++
	producer := p.producer
	p.producer = nil
	p.setStateLocked(StateStopping)
	p.mu.Unlock()

	p.logger.Info("Stopping caption pipeline")

	if producer != nil {
		if err := producer.Close(); err != nil {
			p.logger.Warn("Failed to close audio source", slog.String("error", err.Error()))
		}
	}
	p.buffer.Reset()

	p.mu.Lock()
	p.startedAt = time.Time{}
	p.setStateLocked(StateIdle)
	p.mu.Unlock()

	p.logger.Info("Caption pipeline stopped")
}

func (p *Pipeline) handleChunk(gen uint64, c audio.Chunk) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Recovered from panic in chunk handler", slog.Any("panic", r))
		}
	}()

	ctx, ok := p.current(gen)
	if !ok {
		return
	}
	p.chunks.Add(1)

	level := p.meter.Process(c.Mono())
	if p.recorder != nil {
		p.recorder.ObserveInputLevel(float64(level.Level))
	}

	if c.Status != "" {
		p.logger.Warn("Audio status flag", slog.String("status", c.Status))
	}

	start := time.Now()
	res, err := p.buffer.AddChunk(ctx, c)
	if err != nil {
		p.transcriptionErrors.Add(1)
		p.recordCycleError("transcription")
		p.logger.Warn("Transcription failed, skipping window", slog.String("error", err.Error()))
		return
	}
	if res == nil || res.Text == "" {
		return
	}
	if p.recorder != nil {
		p.recorder.ObserveTranscription(time.Since(start))
	}

	p.logger.Debug("Transcribed window",
		slog.String("text", res.Text),
		slog.String("language", res.Language))

	tr, err := p.translator.Translate(ctx, res.Text, p.TargetLanguage())
	if err != nil {
		p.translationErrors.Add(1)
		p.recordCycleError("translation")
		p.logger.Warn("Translation failed, skipping caption", slog.String("error", err.Error()))
		return
	}

	if _, ok := p.current(gen); !ok {
		p.logger.Debug("Discarding caption from stopped pipeline")
		return
	}

	p.sink.OnCaption(caption.NewCaptionEvent(tr))
	p.captions.Add(1)
	if p.recorder != nil {
		p.recorder.RecordCaption()
	}
}

// current reports whether gen is the running cycle and returns its context
func (p *Pipeline) current(gen uint64) (context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ok := p.gen == gen && (p.state == StateActive || p.state == StateStarting)
	return p.workerCtx, ok
}

func (p *Pipeline) setStateLocked(s State) {
	p.state = s
	if p.recorder != nil {
		p.recorder.SetPipelineState(s.String())
	}
}

func (p *Pipeline) recordCycleError(stage string) {
	if p.recorder != nil {
		p.recorder.RecordCycleError(stage)
	}
}

// State returns the current lifecycle state
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// TargetLanguage returns the language captions are translated into
func (p *Pipeline) TargetLanguage() string {
	return p.target.Load().(string)
}

// SetTargetLanguage changes the caption language from the next translation on
func (p *Pipeline) SetTargetLanguage(code string) error {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return errors.New("target language cannot be empty")
	}
	if !translation.IsSupported(code) {
		p.logger.Warn("Target language is not in the supported list", slog.String("language", code))
	}

	if old := p.TargetLanguage(); old != code {
		p.target.Store(code)
		p.logger.Info("Target language changed", slog.String("from", old), slog.String("to", code))
	}
	return nil
}

// SetAIEnabled toggles AI translation from the next translation on
func (p *Pipeline) SetAIEnabled(enabled bool) {
	p.translator.SetAIEnabled(enabled)
}

// Status returns a snapshot of the pipeline
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	state, producer, startedAt := p.state, p.producer, p.startedAt
	p.mu.Unlock()

	st := Status{
		State:               state.String(),
		Mode:                p.config.Mode,
		TargetLanguage:      p.TargetLanguage(),
		AIEnabled:           p.translator.AIEnabled(),
		BufferedSeconds:     p.buffer.Duration().Seconds(),
		ChunksProcessed:     p.chunks.Load(),
		CaptionsEmitted:     p.captions.Load(),
		TranscriptionErrors: p.transcriptionErrors.Load(),
		TranslationErrors:   p.translationErrors.Load(),
		Voice:               p.meter.Stats(),
	}
	if !startedAt.IsZero() {
		st.StartedAt = &startedAt
	}
	if r, ok := producer.(deviceReporter); ok {
		st.Device = r.Handle()
	}
	if r, ok := p.model.(backendStatsReporter); ok {
		if stats, ok := r.BackendStats(); ok {
			st.Transcription = &stats
		}
	}
	return st
}
