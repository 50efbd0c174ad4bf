package translation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// GeminiBaseURL is the OpenAI-compatible endpoint of the Gemini API
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

	DefaultAIModel = "gemini-1.5-pro"
)

// ErrAIKeyRejected marks an AI failure caused by the credentials rather than
// the request. Retrying with the same key cannot succeed.
var ErrAIKeyRejected = errors.New("AI API key rejected")

// AIBackend completes a single translation prompt
type AIBackend interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// AIConfig configures the chat completion backend
type AIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration // per request, zero means none
}

// ChatBackend sends prompts to an OpenAI-compatible chat completion API
type ChatBackend struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewChatBackend creates an AI backend. An empty API key is an error; callers
// run without AI in that case.
func NewChatBackend(config AIConfig) (*ChatBackend, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("AI API key cannot be empty")
	}
	if config.BaseURL == "" {
		config.BaseURL = GeminiBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultAIModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = config.BaseURL

	return &ChatBackend{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   config.Model,
		timeout: config.Timeout,
	}, nil
}

// Complete implements AIBackend
func (c *ChatBackend) Complete(ctx context.Context, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		if isKeyRejected(err) {
			return "", fmt.Errorf("%w: %w", ErrAIKeyRejected, err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func isKeyRejected(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return true
		case http.StatusBadRequest:
			// Gemini reports a bad key as 400 INVALID_ARGUMENT
			return strings.Contains(strings.ToLower(apiErr.Message), "api key")
		}
		return false
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusUnauthorized || reqErr.HTTPStatusCode == http.StatusForbidden
	}
	return false
}

func isSingleWord(text string) bool {
	return len(strings.Fields(text)) == 1
}

func wordPrompt(word, targetName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate the following word into %s.\n\n", targetName)
	fmt.Fprintf(&b, "- For an ordinary word, give its %s equivalent.\n", targetName)
	fmt.Fprintf(&b, "- For a name of a person, place or dish, write it phonetically in %s script.\n", targetName)
	b.WriteString("- Reply with the single resulting word only.\n\n")
	fmt.Fprintf(&b, "Word: %s\n\n%s:", word, targetName)
	return b.String()
}

func sentencePrompt(text, targetName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You translate live speech captions into %s.\n\n", targetName)
	b.WriteString("Read the whole passage and work out what the speaker means. ")
	fmt.Fprintf(&b, "Say the same thing the way a native %s speaker naturally would, ", targetName)
	b.WriteString("keeping the speaker's tone instead of substituting word by word. ")
	fmt.Fprintf(&b, "Names of people, places and dishes are written phonetically in %s script.\n", targetName)
	b.WriteString("Reply with the translation only, with no notes or explanations.\n\n")
	fmt.Fprintf(&b, "Text: %s\n\n%s translation:", text, targetName)
	return b.String()
}
