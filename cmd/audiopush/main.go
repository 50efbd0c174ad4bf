// Command audiopush streams a WAV file to the ingestion endpoint as if it
// were a browser capturing audio in real time.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/live-caption-service/internal/audio"
	"github.com/skypro1111/live-caption-service/internal/protocol"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8000/browser-audio", "Ingestion websocket URL")
	file := flag.String("file", "", "16-bit PCM WAV file to stream")
	rate := flag.Int("rate", audio.DefaultSampleRate, "Sample rate expected by the service")
	frame := flag.Duration("frame", audio.DefaultChunkDuration, "Frame duration")
	speed := flag.Float64("speed", 1.0, "Playback speed multiplier")
	loop := flag.Bool("loop", false, "Repeat the file until interrupted")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *file == "" || *speed <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	frames, err := loadFrames(*file, *rate, *frame, logger)
	if err != nil {
		logger.Error("Failed to prepare audio", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
	if err != nil {
		logger.Error("Failed to connect", slog.String("url", *url), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	logger.Info("Streaming audio",
		slog.String("url", *url),
		slog.Int("frames", len(frames)),
		slog.Float64("speed", *speed),
	)

	interval := time.Duration(float64(*frame) / *speed)
	for {
		sent, err := push(ctx, conn, frames, interval)
		logger.Info("Pass finished", slog.Int("frames_sent", sent))
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("Streaming failed", slog.String("error", err.Error()))
				os.Exit(1)
			}
			break
		}
		if !*loop {
			break
		}
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// loadFrames decodes a WAV file to mono and splits it into frames
func loadFrames(path string, rate int, frame time.Duration, logger *slog.Logger) ([][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	info, err := audio.GetWAVInfo(data)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded WAV file",
		slog.String("file", path),
		slog.Int("sample_rate", int(info.SampleRate)),
		slog.Int("channels", int(info.Channels)),
		slog.Int("bits_per_sample", int(info.BitsPerSample)),
		slog.Float64("duration_seconds", info.Duration))
	if int(info.SampleRate) != rate {
		logger.Warn("WAV sample rate differs from the service rate; audio will play at the wrong pitch",
			slog.Int("wav_rate", int(info.SampleRate)),
			slog.Int("service_rate", rate))
	}

	chunk, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	frames := protocol.SplitFrames(chunk.Mono(), rate, frame)
	if len(frames) == 0 {
		return nil, fmt.Errorf("%s contains no audio", path)
	}
	return frames, nil
}

type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// push sends frames at a fixed interval and returns how many were sent
func push(ctx context.Context, conn frameWriter, frames [][]float32, interval time.Duration) (int, error) {
	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	for i, f := range frames {
		if err := conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeFrame(f)); err != nil {
			return i, fmt.Errorf("failed to send frame %d: %w", i, err)
		}
		if ticker == nil {
			if err := ctx.Err(); err != nil {
				return i + 1, err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return i + 1, ctx.Err()
		case <-ticker.C:
		}
	}
	return len(frames), nil
}
