package translation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultLiteralEndpoint is the public web endpoint of Google Translate
const DefaultLiteralEndpoint = "https://translate.googleapis.com/translate_a/single"

// LiteralBackend performs word-level machine translation
type LiteralBackend interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// GoogleTranslate calls the keyless Google Translate web endpoint
type GoogleTranslate struct {
	endpoint   string
	httpClient *http.Client
}

// NewGoogleTranslate creates a literal backend with a fixed request timeout
func NewGoogleTranslate(endpoint string, timeout time.Duration) *GoogleTranslate {
	if endpoint == "" {
		endpoint = DefaultLiteralEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoogleTranslate{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Translate implements LiteralBackend
func (g *GoogleTranslate) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if sourceLang == "" {
		sourceLang = "auto"
	}

	params := url.Values{}
	params.Set("client", "gtx")
	params.Set("sl", sourceLang)
	params.Set("tl", targetLang)
	params.Set("dt", "t")
	params.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return parseGTXResponse(body)
}

// parseGTXResponse joins the translated segments of a gtx response, shaped
// as [[["translated","original",...],...],...].
func parseGTXResponse(body []byte) (string, error) {
	var root []json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if len(root) == 0 {
		return "", fmt.Errorf("empty translation response")
	}

	var segments [][]any
	if err := json.Unmarshal(root[0], &segments); err != nil {
		return "", fmt.Errorf("unexpected translation response: %w", err)
	}

	var b strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		if s, ok := seg[0].(string); ok {
			b.WriteString(s)
		}
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("empty translation response")
	}
	return out, nil
}
