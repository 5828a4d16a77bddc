package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/voice-client/internal/config"
	"github.com/lexiqai/voice-client/internal/device"
	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/lexiqai/voice-client/internal/playback"
	"github.com/lexiqai/voice-client/internal/protocol"
	"github.com/lexiqai/voice-client/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("agent_url", cfg.AgentURL).
		Str("http_addr", cfg.HTTPAddr).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice client starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingEnabled, os.Stdout, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tracing")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	// Playback timeline, driven by the speaker when one is available
	timeline := playback.NewTimeline(cfg.PlaybackSampleRate)
	speaker, err := device.NewSpeaker(timeline, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("No output device, agent audio will not be audible")
	} else {
		defer speaker.Close()
	}

	sess, err := session.New(session.Options{
		Config:     cfg,
		Microphone: device.NewMicrophone(cfg.CaptureSampleRate, logger),
		Output:     timeline,
		Logger:     logger,
		OnToolResponse: func(tr protocol.ToolResponse) {
			ev := logger.Info().Str("tool", tr.Tool)
			if f := tr.Flight; f != nil {
				ev = ev.Str("airline", f.Airline).
					Str("flight", f.Flight).
					Float64("price", f.Price).
					Int("seats", f.Seats)
			}
			ev.Msg("Tool response")
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create session")
	}

	// Create HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"agent":      sess.Connected,
		"audio_send": sess.AudioSendReady,
	}))
	mux.HandleFunc("/state", observability.StateHandler(sess.Snapshot))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sess.Run(ctx)
	})

	if speaker == nil {
		g.Go(func() error {
			device.Drain(ctx, timeline, 20*time.Millisecond)
			return nil
		})
	}

	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("Shutting down...")
		_ = sess.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := sess.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		if err := sess.StartRecording(); err != nil {
			logger.Error().Err(err).Msg("Recording unavailable, continuing in listen-only mode")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Voice client stopped with error")
		os.Exit(1)
	}

	logger.Info().Msg("Voice client exited gracefully")
}
