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

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/live-caption-service/internal/caption"
	"github.com/skypro1111/live-caption-service/internal/capture"
	"github.com/skypro1111/live-caption-service/internal/config"
	"github.com/skypro1111/live-caption-service/internal/ingestion"
	"github.com/skypro1111/live-caption-service/internal/metrics"
	"github.com/skypro1111/live-caption-service/internal/pipeline"
	"github.com/skypro1111/live-caption-service/internal/server"
	"github.com/skypro1111/live-caption-service/internal/transcription"
	"github.com/skypro1111/live-caption-service/internal/translation"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "live-caption-service"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to an optional .env file")
	mode := flag.String("mode", "", "Audio source, 'local' or 'network' (overrides config)")
	listDevices := flag.Bool("list-devices", false, "List audio input devices and exit")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Pipeline.Mode = *mode
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -mode: %v\n", err)
			os.Exit(1)
		}
	}

	logger := initLogger(cfg.Logging)

	if *listDevices {
		os.Exit(runListDevices(cfg, logger))
	}

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("mode", cfg.Pipeline.Mode),
		slog.String("target_language", cfg.Pipeline.TargetLanguage),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("buffer_min_duration", cfg.Buffer.MinDuration),
		slog.Float64("buffer_max_duration", cfg.Buffer.MaxDuration),
		slog.String("transcription_backend", cfg.Transcription.Backend),
		slog.Bool("ai_enabled", cfg.Translation.AI.Enabled),
		slog.Bool("ai_key_set", cfg.AIKeyConfigured()),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	backend, err := newTranscriptionBackend(cfg.Transcription, logger)
	if err != nil {
		logger.Error("Failed to create transcription backend", slog.String("error", err.Error()))
		os.Exit(1)
	}
	model := transcription.NewTranscriber(backend, cfg.Transcription.Language, logger)

	translator := newTranslator(cfg.Translation, logger).WithRecorder(appMetrics)

	history := caption.NewHistory(cfg.Captions.History)
	broadcaster := caption.NewBroadcaster(logger)
	sinks := caption.MultiSink{history, broadcaster}
	if cfg.Captions.Console {
		sinks = append(sinks, caption.NewConsoleSink(os.Stdout))
	}

	sources, err := newSources(cfg, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to set up audio source", slog.String("error", err.Error()))
		os.Exit(1)
	}

	p, err := pipeline.New(pipeline.Config{
		Mode:           pipeline.Mode(cfg.Pipeline.Mode),
		TargetLanguage: cfg.Pipeline.TargetLanguage,
		VoiceThreshold: float32(cfg.Audio.VoiceThreshold),
		Buffer: transcription.BufferConfig{
			MinDuration: cfg.Buffer.GetMinDuration(),
			MaxDuration: cfg.Buffer.GetMaxDuration(),
			KeepChunks:  cfg.Buffer.KeepChunks,
			SampleRate:  cfg.Audio.SampleRate,
		},
	}, sources.factory, model, translator, sinks, logger)
	if err != nil {
		logger.Error("Failed to create pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}
	p.WithRecorder(appMetrics)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, p, broadcaster, history, appMetrics, registry)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if sources.ingest != nil {
		go func() {
			if err := sources.ingest.Start(); err != nil {
				logger.Error("Ingestion server error", slog.String("error", err.Error()))
				cancel()
			}
		}()
	}

	watcher, err := config.NewWatcher(*configPath, 0, reloadHandler(cfg, p, httpServer, logger), logger)
	if err == nil {
		err = watcher.Start()
	}
	if err != nil {
		logger.Warn("Configuration hot reload disabled", slog.String("error", err.Error()))
		watcher = nil
	}

	if cfg.Pipeline.Autostart {
		go func() {
			if !p.Start(ctx) {
				logger.Warn("Pipeline did not start; use POST /pipeline/start to retry")
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	if watcher != nil {
		watcher.Stop()
	}

	p.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}
	broadcaster.Close()

	sources.close(shutdownCtx)

	status := p.Status()
	logger.Info("Final pipeline statistics",
		slog.Uint64("chunks_processed", status.ChunksProcessed),
		slog.Uint64("captions_emitted", status.CaptionsEmitted),
		slog.Uint64("transcription_errors", status.TranscriptionErrors),
		slog.Uint64("translation_errors", status.TranslationErrors),
	)

	logger.Info("Service stopped")
}

// audioSources holds the producer factory for the configured mode and the
// long-lived resources behind it
type audioSources struct {
	factory pipeline.ProducerFactory
	driver  capture.Driver
	ingest  *ingestion.Server
	logger  *slog.Logger
}

func newSources(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*audioSources, error) {
	s := &audioSources{logger: logger}

	switch pipeline.Mode(cfg.Pipeline.Mode) {
	case pipeline.ModeNetwork:
		hub := ingestion.NewHub(cfg.Audio.QueueSize, logger).WithRecorder(m)
		s.ingest = ingestion.NewServer(ingestion.Config{
			ListenAddress: cfg.Ingestion.ListenAddr(),
			Path:          cfg.Ingestion.Path,
			SampleRate:    cfg.Audio.SampleRate,
		}, hub, logger)
		s.factory = func() (pipeline.Producer, error) {
			return hub.NewReceiver(), nil
		}

	case pipeline.ModeLocal:
		driver, driverErr := capture.NewDriver(logger)
		if driverErr != nil {
			// Reported as a start failure so the API stays available
			logger.Warn("Audio driver unavailable", slog.String("error", driverErr.Error()))
		}
		s.driver = driver

		captureCfg := capture.Config{
			DeviceHint:    cfg.Audio.DeviceHint,
			SampleRate:    cfg.Audio.SampleRate,
			Channels:      cfg.Audio.Channels,
			ChunkDuration: cfg.Audio.GetChunkDuration(),
			QueueSize:     cfg.Audio.QueueSize,
		}
		s.factory = func() (pipeline.Producer, error) {
			if driverErr != nil {
				return nil, fmt.Errorf("%w: %v", capture.ErrNoAudioDevice, driverErr)
			}
			return capture.NewSource(driver, captureCfg, logger).WithRecorder(m), nil
		}

	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Pipeline.Mode)
	}

	return s, nil
}

func (s *audioSources) close(ctx context.Context) {
	if s.ingest != nil {
		if err := s.ingest.Shutdown(ctx); err != nil {
			s.logger.Error("Error stopping ingestion server", slog.String("error", err.Error()))
		}
	}
	if s.driver != nil {
		if err := s.driver.Close(); err != nil {
			s.logger.Error("Error closing audio driver", slog.String("error", err.Error()))
		}
	}
}

func newTranscriptionBackend(cfg config.TranscriptionConfig, logger *slog.Logger) (transcription.Backend, error) {
	switch cfg.Backend {
	case "openai":
		return transcription.NewOpenAI(transcription.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		})
	case "whisper-server":
		ws := cfg.WhisperServer
		return transcription.NewWhisperServer(transcription.WhisperServerConfig{
			BaseURL:     ws.URL,
			Model:       ws.Model,
			ModelDir:    ws.ModelDir,
			ModelURL:    ws.ModelURL,
			LoadOnStart: ws.LoadOnStart,
			Timeout:     ws.GetTimeoutDuration(),
			MaxRetries:  ws.MaxRetries,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.Backend)
	}
}

func newTranslator(cfg config.TranslationConfig, logger *slog.Logger) *translation.Orchestrator {
	endpoint := cfg.Basic.Endpoint
	if endpoint == "" {
		endpoint = translation.DefaultLiteralEndpoint
	}
	literal := translation.NewGoogleTranslate(endpoint, cfg.Basic.GetTimeoutDuration())

	var ai translation.AIBackend
	chat, err := translation.NewChatBackend(translation.AIConfig{
		APIKey:  cfg.AI.APIKey,
		BaseURL: cfg.AI.BaseURL,
		Model:   cfg.AI.Model,
		Timeout: cfg.AI.GetTimeoutDuration(),
	})
	if err != nil {
		logger.Warn("AI translation unavailable, using basic translation only",
			slog.String("error", err.Error()),
			slog.String("hint", "set "+config.EnvAIAPIKey+" or "+config.EnvGeminiAPIKey))
	} else {
		ai = chat
	}

	return translation.NewOrchestrator(translation.Config{
		MaxAttempts: cfg.Basic.MaxAttempts,
		RetryDelay:  cfg.Basic.GetRetryDelay(),
		AIEnabled:   cfg.AI.Enabled,
	}, translation.WhatlangDetector{}, literal, ai, logger)
}

// reloadHandler applies live-tunable settings that changed in the file.
// Values not edited in the file are left alone so API changes survive.
func reloadHandler(initial *config.Config, p *pipeline.Pipeline, httpServer *server.HTTPServer, logger *slog.Logger) func(*config.Config) {
	prev := initial
	return func(next *config.Config) {
		if next.Pipeline.TargetLanguage != prev.Pipeline.TargetLanguage {
			if err := p.SetTargetLanguage(next.Pipeline.TargetLanguage); err != nil {
				logger.Warn("Ignoring target language from config", slog.String("error", err.Error()))
			}
		}
		if next.Translation.AI.Enabled != prev.Translation.AI.Enabled {
			p.SetAIEnabled(next.Translation.AI.Enabled)
		}
		if next.Pipeline.Mode != prev.Pipeline.Mode || next.Transcription.Backend != prev.Transcription.Backend {
			logger.Warn("Mode and backend changes take effect after a restart")
		}
		if httpServer != nil {
			httpServer.SetConfig(next)
		}
		prev = next
	}
}

func runListDevices(cfg *config.Config, logger *slog.Logger) int {
	driver, err := capture.NewDriver(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Audio driver unavailable: %v\n", err)
		return 1
	}
	defer driver.Close()

	source := capture.NewSource(driver, capture.Config{
		DeviceHint:    cfg.Audio.DeviceHint,
		SampleRate:    cfg.Audio.SampleRate,
		Channels:      cfg.Audio.Channels,
		ChunkDuration: cfg.Audio.GetChunkDuration(),
		QueueSize:     cfg.Audio.QueueSize,
	}, logger)

	devices, err := source.ListDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list devices: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(os.Stderr, capture.ErrNoAudioDevice)
		return 1
	}

	highlight := color.New(color.FgGreen, color.Bold)
	for _, d := range devices {
		marker := " "
		if d.IsDefault {
			marker = highlight.Sprint("*")
		}
		fmt.Printf("%s %s\n", marker, d.Name)
	}
	return 0
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
