package translation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Translation methods recorded in Result.Method
const (
	MethodAIWord     = "AI (Word)"
	MethodAISentence = "AI (Sentence)"
	MethodBasic      = "Basic"
	MethodIdentity   = "identity"
)

// Result is one translated caption line
type Result struct {
	TranslatedText string `json:"translated_text"`
	OriginalText   string `json:"original_text"`
	SourceLang     string `json:"source_lang"`
	SourceLangName string `json:"source_lang_name"`
	TargetLang     string `json:"target_lang"`
	TargetLangName string `json:"target_lang_name"`
	Method         string `json:"method"`
}

// Recorder receives translation metrics
type Recorder interface {
	RecordTranslation(method string, duration time.Duration)
	RecordAIFallback()
	RecordTranslationRetry()
}

// Config controls the literal fallback path
type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
	AIEnabled   bool
}

// DefaultConfig returns three attempts one second apart with AI on
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		RetryDelay:  time.Second,
		AIEnabled:   true,
	}
}

// Orchestrator runs the AI-first, literal-fallback translation cascade.
type Orchestrator struct {
	config   Config
	detector Detector
	literal  LiteralBackend
	ai       AIBackend
	recorder Recorder
	logger   *slog.Logger

	aiEnabled  atomic.Bool
	aiRejected atomic.Bool // sticky once the backend refuses the key
}

// NewOrchestrator creates an orchestrator. ai may be nil, in which case the
// orchestrator only ever uses the literal backend.
func NewOrchestrator(config Config, detector Detector, literal LiteralBackend, ai AIBackend, logger *slog.Logger) *Orchestrator {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if detector == nil {
		detector = WhatlangDetector{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		config:   config,
		detector: detector,
		literal:  literal,
		ai:       ai,
		logger:   logger,
	}
	o.aiEnabled.Store(config.AIEnabled)
	return o
}

// WithRecorder attaches a metrics recorder
func (o *Orchestrator) WithRecorder(r Recorder) *Orchestrator {
	o.recorder = r
	return o
}

// SetAIEnabled toggles the AI path. It takes effect on the next Translate call.
// It cannot re-enable AI after the backend rejected the API key.
func (o *Orchestrator) SetAIEnabled(enabled bool) {
	o.aiEnabled.Store(enabled)
}

// AIEnabled reports whether the next call will try the AI path
func (o *Orchestrator) AIEnabled() bool {
	return o.AIAvailable() && o.aiEnabled.Load()
}

// AIAvailable reports whether an AI backend is configured and its key has
// not been rejected
func (o *Orchestrator) AIAvailable() bool {
	return o.ai != nil && !o.aiRejected.Load()
}

// Translate translates text into targetLang. AI failures are logged and
// fall through to the literal backend; only literal exhaustion is returned
// as a *TranslationFailedError.
func (o *Orchestrator) Translate(ctx context.Context, text, targetLang string) (Result, error) {
	start := time.Now()
	text = strings.TrimSpace(text)

	if o.AIEnabled() {
		res, err := o.translateAI(ctx, text, targetLang)
		if err == nil {
			o.record(res.Method, start)
			return res, nil
		}
		if errors.Is(err, ErrAIKeyRejected) {
			if o.aiRejected.CompareAndSwap(false, true) {
				o.logger.Error("AI API key rejected, using basic translation for the rest of the session",
					slog.String("error", err.Error()))
			}
		} else {
			o.logger.Warn("AI translation failed, falling back to basic translation",
				slog.String("error", err.Error()))
		}
		if o.recorder != nil {
			o.recorder.RecordAIFallback()
		}
	}

	res, err := o.translateBasic(ctx, text, targetLang)
	if err != nil {
		return Result{}, err
	}
	o.record(res.Method, start)
	return res, nil
}

func (o *Orchestrator) translateAI(ctx context.Context, text, targetLang string) (Result, error) {
	res := o.newResult(text, targetLang)
	if res.SourceLang == targetLang {
		return identity(res), nil
	}

	prompt, method := sentencePrompt(text, res.TargetLangName), MethodAISentence
	if isSingleWord(text) {
		prompt, method = wordPrompt(text, res.TargetLangName), MethodAIWord
	}

	out, err := o.ai.Complete(ctx, prompt)
	if err != nil {
		return Result{}, &AITranslationError{Err: err}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return Result{}, &AITranslationError{Err: fmt.Errorf("empty response")}
	}

	res.TranslatedText = out
	res.Method = method
	return res, nil
}

func (o *Orchestrator) translateBasic(ctx context.Context, text, targetLang string) (Result, error) {
	res := o.newResult(text, targetLang)
	if res.SourceLang == targetLang {
		return identity(res), nil
	}

	var lastErr error
	for attempt := 1; attempt <= o.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if o.recorder != nil {
				o.recorder.RecordTranslationRetry()
			}
			select {
			case <-time.After(o.config.RetryDelay):
			case <-ctx.Done():
				return Result{}, &TranslationFailedError{Attempts: attempt - 1, Err: ctx.Err()}
			}
		}

		out, err := o.literal.Translate(ctx, text, res.SourceLang, targetLang)
		if err == nil && strings.TrimSpace(out) != "" {
			res.TranslatedText = strings.TrimSpace(out)
			res.Method = MethodBasic
			return res, nil
		}
		if err == nil {
			err = fmt.Errorf("empty translation")
		}

		lastErr = err
		o.logger.Debug("Basic translation attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", o.config.MaxAttempts),
			slog.String("error", err.Error()))
	}

	return Result{}, &TranslationFailedError{Attempts: o.config.MaxAttempts, Err: lastErr}
}

func (o *Orchestrator) newResult(text, targetLang string) Result {
	source, err := o.detector.Detect(text)
	sourceName := LanguageName(source)
	if err != nil || source == "" {
		source = DefaultSourceLanguage
		sourceName = LanguageName(source) + " (default)"
	}

	return Result{
		OriginalText:   text,
		SourceLang:     source,
		SourceLangName: sourceName,
		TargetLang:     targetLang,
		TargetLangName: LanguageName(targetLang),
	}
}

func identity(res Result) Result {
	res.TranslatedText = res.OriginalText
	res.Method = MethodIdentity
	return res
}

func (o *Orchestrator) record(method string, start time.Time) {
	if o.recorder != nil {
		o.recorder.RecordTranslation(method, time.Since(start))
	}
}
