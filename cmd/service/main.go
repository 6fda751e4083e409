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

	"github.com/joho/godotenv"

	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/audio"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/config"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/level"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/message"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/metrics"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/segment"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/server"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/session"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/transcription"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/transport"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "ai-zoom-assistant"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	capturePath := flag.String("capture", "", "Raw PCM file to replay as the capture source (tone generator when empty)")
	flag.Parse()

	// Load .env before config so env overrides pick it up
	if err := godotenv.Load(); err == nil {
		fmt.Fprintln(os.Stderr, "Loaded environment from .env")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("session_ws_url", cfg.Session.WSURL),
		slog.Float64("reconnect_delay", cfg.Session.ReconnectDelay),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("chunk_duration", cfg.Audio.ChunkDuration),
		slog.Float64("level_threshold", cfg.Level.Threshold),
		slog.Float64("silence_timeout", cfg.Segmentation.SilenceTimeout),
		slog.Float64("max_segment_duration", cfg.Segmentation.MaxSegmentDuration),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Capture source: file replay when given, tone generator otherwise
	var source audio.Source
	if *capturePath != "" {
		source, err = audio.NewFileSource(*capturePath, "")
		if err != nil {
			logger.Error("Failed to open capture file", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Capture source: file replay", slog.String("path", *capturePath))
	} else {
		source = audio.NewToneSource(cfg.Audio.SampleRate, 440, 0.1)
		logger.Info("Capture source: tone generator")
	}
	defer source.Close()

	// Transcription client receives closed segments
	transcribeClient, err := transcription.NewClient(transcription.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
		Language:      cfg.Transcription.Language,
		Model:         cfg.Transcription.Model,
	}, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	transcribeClient.OnResult(func(result *transcription.Result) {
		logger.Info("Segment transcript",
			slog.String("segment_id", result.SegmentID),
			slog.String("speaker", result.SpeakerID),
			slog.String("text", result.Text),
		)
	})

	// Message router and session transport
	router := message.NewRouter(logger)
	sessionTransport := transport.New(transport.Config{
		URL:            cfg.Session.WSURL,
		ReconnectDelay: cfg.Session.GetReconnectDelay(),
	}, router, appMetrics, logger)

	// Segmentation buffer dispatches closed segments to transcription
	buffer := segment.NewBuffer(segment.Config{
		SilenceTimeout:     cfg.Segmentation.GetSilenceTimeout(),
		MaxSegmentDuration: cfg.Segmentation.GetMaxSegmentDuration(),
	}, transcribeClient, appMetrics, logger)

	analyzer := level.NewAnalyzer(cfg.Level.Threshold, cfg.Level.SmoothingWindow)
	encoder := audio.NewEncoder(cfg.Audio.SampleRate)

	// Session controller ties the pipeline together
	controller := session.NewController(session.Config{
		ChunkDuration:   cfg.Audio.GetChunkDuration(),
		SamplesPerChunk: cfg.Audio.SamplesPerChunk(),
		OpenTimeout:     cfg.Session.GetOpenTimeout(),
	}, source, analyzer, encoder, buffer, sessionTransport, router, appMetrics, logger)
	logger.Info("Session controller initialized")

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, controller, transcribeClient, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the streaming session
	if err := controller.Start(ctx); err != nil {
		logger.Error("Failed to start session", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop the session (halts capture, flushes segments, closes transport)
	controller.Shutdown()

	// Drain in-flight transcription requests
	if err := transcribeClient.Close(); err != nil {
		logger.Error("Error closing transcription client", slog.String("error", err.Error()))
	}

	// Get final statistics
	stats := controller.GetStats()
	logger.Info("Final session statistics",
		slog.Uint64("chunks_captured", stats.ChunksCaptured),
		slog.Uint64("chunks_sent", stats.ChunksSent),
		slog.Uint64("segments_dispatched", stats.Segmentation.SegmentsDispatched),
		slog.Uint64("transcripts", stats.Transcripts),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
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
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
