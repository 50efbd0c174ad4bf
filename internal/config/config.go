package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Pipeline      PipelineConfig      `yaml:"pipeline" json:"pipeline"`
	Audio         AudioConfig         `yaml:"audio" json:"audio"`
	Buffer        BufferConfig        `yaml:"buffer" json:"buffer"`
	Transcription TranscriptionConfig `yaml:"transcription" json:"transcription"`
	Translation   TranslationConfig   `yaml:"translation" json:"translation"`
	Ingestion     IngestionConfig     `yaml:"ingestion" json:"ingestion"`
	HTTP          HTTPConfig          `yaml:"http" json:"http"`
	Captions      CaptionsConfig      `yaml:"captions" json:"captions"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
}

// PipelineConfig selects the audio source and start behaviour
type PipelineConfig struct {
	Mode           string `yaml:"mode" json:"mode"` // local | network
	Autostart      bool   `yaml:"autostart" json:"autostart"`
	TargetLanguage string `yaml:"target_language" json:"target_language"`
}

// AudioConfig contains capture parameters
type AudioConfig struct {
	SampleRate    int     `yaml:"sample_rate" json:"sample_rate"`
	Channels      int     `yaml:"channels" json:"channels"`
	ChunkDuration float64 `yaml:"chunk_duration" json:"chunk_duration"` // seconds
	QueueSize     int     `yaml:"queue_size" json:"queue_size"`
	DeviceHint    string  `yaml:"device_hint" json:"device_hint"`
	// RMS level counted as voice by the input meter
	VoiceThreshold float64 `yaml:"voice_threshold" json:"voice_threshold"`
}

// BufferConfig contains transcription buffering thresholds
type BufferConfig struct {
	MinDuration float64 `yaml:"min_duration" json:"min_duration"` // seconds
	MaxDuration float64 `yaml:"max_duration" json:"max_duration"` // seconds
	KeepChunks  int     `yaml:"keep_chunks" json:"keep_chunks"`
}

// TranscriptionConfig selects and configures the speech backend
type TranscriptionConfig struct {
	Backend       string              `yaml:"backend" json:"backend"` // whisper-server | openai
	Language      string              `yaml:"language" json:"language"`
	WhisperServer WhisperServerConfig `yaml:"whisper_server" json:"whisper_server"`
	OpenAI        OpenAIConfig        `yaml:"openai" json:"openai"`
}

// WhisperServerConfig points at a whisper.cpp server
type WhisperServerConfig struct {
	URL         string `yaml:"url" json:"url"`
	Model       string `yaml:"model" json:"model"`
	ModelDir    string `yaml:"model_dir" json:"model_dir"`
	ModelURL    string `yaml:"model_url" json:"model_url"`
	LoadOnStart bool   `yaml:"load_on_start" json:"load_on_start"`
	Timeout     int    `yaml:"timeout" json:"timeout"` // seconds
	MaxRetries  int    `yaml:"max_retries" json:"max_retries"`
}

// OpenAIConfig configures the hosted transcription API
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" json:"api_key,omitempty"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	Model   string `yaml:"model" json:"model"`
}

// TranslationConfig configures both translation paths
type TranslationConfig struct {
	AI    AITranslationConfig    `yaml:"ai" json:"ai"`
	Basic BasicTranslationConfig `yaml:"basic" json:"basic"`
}

// AITranslationConfig configures the chat completion translator
type AITranslationConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	APIKey  string `yaml:"api_key" json:"api_key,omitempty"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	Model   string `yaml:"model" json:"model"`
	Timeout int    `yaml:"timeout" json:"timeout"` // seconds
}

// BasicTranslationConfig configures the literal translator
type BasicTranslationConfig struct {
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	Timeout     int     `yaml:"timeout" json:"timeout"` // seconds
	MaxAttempts int     `yaml:"max_attempts" json:"max_attempts"`
	RetryDelay  float64 `yaml:"retry_delay" json:"retry_delay"` // seconds
}

// IngestionConfig contains the browser audio websocket settings
type IngestionConfig struct {
	Address string `yaml:"address" json:"address"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" json:"port"`
	Address string `yaml:"address" json:"address"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// CaptionsConfig controls local caption delivery
type CaptionsConfig struct {
	Console bool `yaml:"console" json:"console"`
	History int  `yaml:"history" json:"history"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Environment overrides applied after the file is parsed
const (
	EnvTargetLanguage = "CAPTION_TARGET_LANGUAGE"
	EnvMode           = "CAPTION_MODE"
	EnvAIAPIKey       = "CAPTION_AI_API_KEY"
	EnvGeminiAPIKey   = "GEMINI_API_KEY"
	EnvOpenAIAPIKey   = "CAPTION_OPENAI_API_KEY"
	EnvLogLevel       = "CAPTION_LOG_LEVEL"
)

// LoadDotEnv loads variables from .env files into the process environment.
// Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Default returns the configuration used for keys absent from the file
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Mode:           "local",
			Autostart:      true,
			TargetLanguage: "ta",
		},
		Audio: AudioConfig{
			SampleRate:     16000,
			Channels:       1,
			ChunkDuration:  0.5,
			QueueSize:      32,
			VoiceThreshold: 0.01,
		},
		Buffer: BufferConfig{
			MinDuration: 2.0,
			MaxDuration: 5.0,
			KeepChunks:  5,
		},
		Transcription: TranscriptionConfig{
			Backend: "whisper-server",
			WhisperServer: WhisperServerConfig{
				URL:        "http://127.0.0.1:8080",
				Model:      "tiny",
				ModelDir:   "models",
				Timeout:    30,
				MaxRetries: 2,
			},
			OpenAI: OpenAIConfig{
				Model: "whisper-1",
			},
		},
		Translation: TranslationConfig{
			AI: AITranslationConfig{
				Enabled: true,
				Timeout: 15,
			},
			Basic: BasicTranslationConfig{
				Timeout:     10,
				MaxAttempts: 3,
				RetryDelay:  1.0,
			},
		},
		Ingestion: IngestionConfig{
			Address: "127.0.0.1",
			Port:    8000,
			Path:    "/browser-audio",
		},
		HTTP: HTTPConfig{
			Port:    8090,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Captions: CaptionsConfig{
			Console: true,
			History: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// ApplyEnv overrides file values with environment variables
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvTargetLanguage)); v != "" {
		c.Pipeline.TargetLanguage = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvMode)); v != "" {
		c.Pipeline.Mode = strings.ToLower(v)
	}
	if v := firstEnv(EnvAIAPIKey, EnvGeminiAPIKey); v != "" {
		c.Translation.AI.APIKey = v
	}
	if v := firstEnv(EnvOpenAIAPIKey); v != "" {
		c.Transcription.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Buffer.Validate(); err != nil {
		return fmt.Errorf("buffer config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Translation.Validate(); err != nil {
		return fmt.Errorf("translation config: %w", err)
	}

	if c.Pipeline.Mode == "network" {
		if err := c.Ingestion.Validate(); err != nil {
			return fmt.Errorf("ingestion config: %w", err)
		}
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if c.Captions.History < 0 {
		return fmt.Errorf("captions config: history cannot be negative, got %d", c.Captions.History)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.Mode != "local" && p.Mode != "network" {
		return fmt.Errorf("mode must be 'local' or 'network', got '%s'", p.Mode)
	}

	if strings.TrimSpace(p.TargetLanguage) == "" {
		return fmt.Errorf("target_language cannot be empty")
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.Channels < 1 || a.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}

	if a.ChunkDuration <= 0 || a.ChunkDuration > 2 {
		return fmt.Errorf("chunk_duration must be in (0, 2] seconds, got %f", a.ChunkDuration)
	}

	if a.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", a.QueueSize)
	}

	if a.VoiceThreshold < 0 || a.VoiceThreshold > 1 {
		return fmt.Errorf("voice_threshold must be between 0 and 1, got %f", a.VoiceThreshold)
	}

	return nil
}

// Validate validates buffer configuration
func (b *BufferConfig) Validate() error {
	if b.MinDuration <= 0 {
		return fmt.Errorf("min_duration must be positive, got %f", b.MinDuration)
	}

	if b.MaxDuration < b.MinDuration {
		return fmt.Errorf("max_duration (%f) must not be less than min_duration (%f)",
			b.MaxDuration, b.MinDuration)
	}

	if b.KeepChunks < 1 {
		return fmt.Errorf("keep_chunks must be at least 1, got %d", b.KeepChunks)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Backend {
	case "whisper-server":
		if t.WhisperServer.URL == "" {
			return fmt.Errorf("whisper_server.url cannot be empty")
		}
		if t.WhisperServer.Model == "" {
			return fmt.Errorf("whisper_server.model cannot be empty")
		}
		if t.WhisperServer.Timeout < 1 {
			return fmt.Errorf("whisper_server.timeout must be at least 1 second, got %d", t.WhisperServer.Timeout)
		}
		if t.WhisperServer.MaxRetries < 0 {
			return fmt.Errorf("whisper_server.max_retries cannot be negative, got %d", t.WhisperServer.MaxRetries)
		}
	case "openai":
		if t.OpenAI.APIKey == "" {
			return fmt.Errorf("openai.api_key cannot be empty (set %s)", EnvOpenAIAPIKey)
		}
	default:
		return fmt.Errorf("backend must be 'whisper-server' or 'openai', got '%s'", t.Backend)
	}

	return nil
}

// Validate validates translation configuration. A missing AI key is not an
// error: the service runs with basic translation only.
func (t *TranslationConfig) Validate() error {
	if t.AI.Timeout < 1 {
		return fmt.Errorf("ai.timeout must be at least 1 second, got %d", t.AI.Timeout)
	}

	if t.Basic.Timeout < 1 {
		return fmt.Errorf("basic.timeout must be at least 1 second, got %d", t.Basic.Timeout)
	}

	if t.Basic.MaxAttempts < 1 {
		return fmt.Errorf("basic.max_attempts must be at least 1, got %d", t.Basic.MaxAttempts)
	}

	if t.Basic.RetryDelay < 0 {
		return fmt.Errorf("basic.retry_delay cannot be negative, got %f", t.Basic.RetryDelay)
	}

	return nil
}

// Validate validates ingestion configuration
func (i *IngestionConfig) Validate() error {
	if i.Port < 1 || i.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", i.Port)
	}

	if i.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if !strings.HasPrefix(i.Path, "/") {
		return fmt.Errorf("path must start with '/', got '%s'", i.Path)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output is stdout, stderr or a file path
	return nil
}

// GetChunkDuration returns the capture chunk length as a time.Duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDuration * float64(time.Second))
}

// GetMinDuration returns the buffer readiness threshold as a time.Duration
func (b *BufferConfig) GetMinDuration() time.Duration {
	return time.Duration(b.MinDuration * float64(time.Second))
}

// GetMaxDuration returns the buffer overflow threshold as a time.Duration
func (b *BufferConfig) GetMaxDuration() time.Duration {
	return time.Duration(b.MaxDuration * float64(time.Second))
}

// GetTimeoutDuration returns the whisper server timeout as a time.Duration
func (w *WhisperServerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(w.Timeout) * time.Second
}

// GetTimeoutDuration returns the AI request timeout as a time.Duration
func (a *AITranslationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetTimeoutDuration returns the literal translator timeout as a time.Duration
func (b *BasicTranslationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(b.Timeout) * time.Second
}

// GetRetryDelay returns the delay between literal attempts as a time.Duration
func (b *BasicTranslationConfig) GetRetryDelay() time.Duration {
	return time.Duration(b.RetryDelay * float64(time.Second))
}

// ListenAddr returns host:port for the ingestion server
func (i *IngestionConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", i.Address, i.Port)
}

// Sanitized returns a copy with credentials removed, for the /config endpoint
func (c *Config) Sanitized() Config {
	out := *c
	out.Transcription.OpenAI.APIKey = ""
	out.Translation.AI.APIKey = ""
	return out
}

// AIKeyConfigured reports whether an AI translation key is present
func (c *Config) AIKeyConfigured() bool {
	return strings.TrimSpace(c.Translation.AI.APIKey) != ""
}
