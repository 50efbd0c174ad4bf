package transcription

import (
	"bytes"
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/skypro1111/live-caption-service/internal/audio"
)

// OpenAIConfig configures an OpenAI-compatible transcription backend
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty uses api.openai.com
	Model   string
}

// OpenAI transcribes windows through the /audio/transcriptions API
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI transcription backend
func NewOpenAI(config OpenAIConfig) (*OpenAI, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if config.Model == "" {
		config.Model = openai.Whisper1
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.Model,
	}, nil
}

// Name implements Backend
func (o *OpenAI) Name() string {
	return "openai"
}

// Load checks that the configured model is available to the API key
func (o *OpenAI) Load(ctx context.Context) error {
	if _, err := o.client.GetModel(ctx, o.model); err != nil {
		return fmt.Errorf("model %s unavailable: %w", o.model, err)
	}
	return nil
}

// Infer implements Backend
func (o *OpenAI) Infer(ctx context.Context, window audio.Window, language string) (Result, error) {
	wav, err := audio.EncodeWAV(window.Samples, window.SampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode window: %w", err)
	}

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.model,
		Reader:   bytes.NewReader(wav),
		FilePath: "window.wav",
		Language: language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Text: resp.Text, Language: resp.Language}, nil
}
