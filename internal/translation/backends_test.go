package translation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoogleTranslate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "gtx", q.Get("client"))
		assert.Equal(t, "en", q.Get("sl"))
		assert.Equal(t, "ta", q.Get("tl"))
		assert.Equal(t, "good morning. friends", q.Get("q"))
		io.WriteString(w, `[[["காலை வணக்கம். ","good morning. ",null,null,10],["நண்பர்களே","friends",null,null,10]],null,"en"]`)
	}))
	defer server.Close()

	g := NewGoogleTranslate(server.URL, time.Second)
	out, err := g.Translate(context.Background(), "good morning. friends", "en", "ta")
	require.NoError(t, err)
	assert.Equal(t, "காலை வணக்கம். நண்பர்களே", out)
}

func TestGoogleTranslateErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "oops"},
		{"malformed", http.StatusOK, "not json"},
		{"empty", http.StatusOK, `[[],null,"en"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			_, err := NewGoogleTranslate(server.URL, time.Second).Translate(context.Background(), "hi", "en", "ta")
			assert.Error(t, err)
		})
	}
}

func TestGoogleTranslateTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	_, err := NewGoogleTranslate(server.URL, 20*time.Millisecond).Translate(context.Background(), "hi", "en", "ta")
	assert.Error(t, err)
}

func TestChatBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultAIModel, req.Model)
		require.Len(t, req.Messages, 1)

		json.NewEncoder(w).Encode(map[string]any{
			"id":      "1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": "  வணக்கம்  "}}},
		})
	}))
	defer server.Close()

	backend, err := NewChatBackend(AIConfig{APIKey: "secret", BaseURL: server.URL})
	require.NoError(t, err)

	out, err := backend.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "வணக்கம்", out)
}

func TestChatBackendRequiresKey(t *testing.T) {
	_, err := NewChatBackend(AIConfig{APIKey: "  "})
	assert.Error(t, err)
}

func TestWhatlangDetector(t *testing.T) {
	d := WhatlangDetector{}

	code, err := d.Detect("வணக்கம் நண்பர்களே, இன்று நாம் சந்திக்கிறோம்")
	require.NoError(t, err)
	assert.Equal(t, "ta", code)

	_, err = d.Detect("   ")
	assert.Error(t, err)
}

func TestLanguageName(t *testing.T) {
	assert.Equal(t, "Tamil", LanguageName("ta"))
	assert.Equal(t, "Punjabi", LanguageName("pa"))
	assert.Equal(t, "FR", LanguageName("fr"))
	assert.True(t, IsSupported("kn"))
	assert.False(t, IsSupported("fr"))
	assert.Len(t, SupportedLanguages, 10)
}

func TestPromptClassification(t *testing.T) {
	assert.True(t, isSingleWord("  Chennai "))
	assert.False(t, isSingleWord("good morning"))
	assert.Contains(t, wordPrompt("Chennai", "Tamil"), "Word: Chennai")
	assert.Contains(t, sentencePrompt("good morning", "Hindi"), "Hindi translation:")
}
