package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/live-caption-service/internal/audio"
	"github.com/skypro1111/live-caption-service/internal/protocol"
)

func TestLoadFrames(t *testing.T) {
	wav, err := audio.EncodeWAV(make([]float32, 20000), 16000) // 1.25s
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "speech.wav")
	require.NoError(t, os.WriteFile(path, wav, 0644))

	frames, err := loadFrames(path, 16000, 500*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Len(t, frames[0], 8000)
	assert.Len(t, frames[2], 4000)

	_, err = loadFrames(filepath.Join(t.TempDir(), "missing.wav"), 16000, 500*time.Millisecond, slog.Default())
	assert.Error(t, err)
}

func TestLoadFramesLogsFormat(t *testing.T) {
	wav, err := audio.EncodeWAV(make([]float32, 8000), 8000) // 1s at 8kHz
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "phone.wav")
	require.NoError(t, os.WriteFile(path, wav, 0644))

	var logs bytes.Buffer
	frames, err := loadFrames(path, 16000, 500*time.Millisecond, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)
	assert.Len(t, frames, 1)

	out := logs.String()
	assert.Contains(t, out, "sample_rate=8000")
	assert.Contains(t, out, "channels=1")
	assert.Contains(t, out, "bits_per_sample=16")
	assert.Contains(t, out, "duration_seconds=1")
	assert.Contains(t, out, "wav_rate=8000")
}

func TestLoadFramesRejectsInvalidWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noise.wav")
	require.NoError(t, os.WriteFile(path, []byte("not a wav file"), 0644))

	_, err := loadFrames(path, 16000, 500*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestPushSendsDecodableFrames(t *testing.T) {
	received := make(chan []byte, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	frames := [][]float32{{0.1, 0.2}, {0.3}, {-0.5, 0.5, 0}}
	sent, err := push(context.Background(), conn, frames, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, sent)

	for i, want := range frames {
		select {
		case data := <-received:
			chunk, err := protocol.DecodeFrame(data, 16000)
			require.NoError(t, err)
			assert.Equal(t, want, chunk.Samples, "frame %d", i)
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d not received", i)
		}
	}
}

func TestPushStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &countingWriter{}
	sent, err := push(ctx, w, [][]float32{{0}, {0}, {0}}, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, w.n)
}

type countingWriter struct{ n int }

func (c *countingWriter) WriteMessage(int, []byte) error {
	c.n++
	return nil
}
