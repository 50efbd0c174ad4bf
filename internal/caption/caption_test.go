package caption

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/live-caption-service/internal/translation"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleCaption() CaptionEvent {
	return NewCaptionEvent(translation.Result{
		OriginalText:   "hello",
		TranslatedText: "வணக்கம்",
		SourceLang:     "en",
		TargetLang:     "ta",
		Method:         translation.MethodBasic,
	})
}

func TestNewCaptionEvent(t *testing.T) {
	ev := sampleCaption()

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "hello", ev.OriginalText)
	assert.Equal(t, "வணக்கம்", ev.TranslatedText)
	assert.Equal(t, "Basic", ev.Method)
	assert.WithinDuration(t, time.Now(), ev.Timestamp, time.Second)
	assert.NotEqual(t, ev.ID, sampleCaption().ID)
}

func TestConsoleSink(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)

	sink.OnCaption(sampleCaption())
	sink.OnError(NewErrorEvent("no device"))

	out := buf.String()
	assert.Contains(t, out, "hello → வணக்கம் [Basic]")
	assert.Contains(t, out, "error: no device")
}

func TestMultiSinkAndHistory(t *testing.T) {
	first, second := NewHistory(2), NewHistory(10)
	sink := MultiSink{first, second}

	for i := 0; i < 3; i++ {
		sink.OnCaption(sampleCaption())
	}
	sink.OnError(NewErrorEvent("model download failed"))

	assert.Len(t, first.Captions(), 2)
	assert.Len(t, second.Captions(), 3)
	require.NotNil(t, first.LastError())
	assert.Equal(t, "model download failed", first.LastError().Message)
	assert.Nil(t, NewHistory(1).LastError())
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster(quietLogger())
	server := httptest.NewServer(b)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	ev := sampleCaption()
	b.OnCaption(ev)
	b.OnError(NewErrorEvent("boom"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg Message
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "caption", msg.Type)
	require.NotNil(t, msg.Caption)
	assert.Equal(t, ev.ID, msg.Caption.ID)
	assert.Equal(t, "வணக்கம்", msg.Caption.TranslatedText)

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "boom", msg.Error.Message)

	b.Close()
	assert.Equal(t, 0, b.Subscribers())
}

func TestBroadcasterDropsDisconnectedClients(t *testing.T) {
	b := NewBroadcaster(quietLogger())
	server := httptest.NewServer(b)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return b.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
