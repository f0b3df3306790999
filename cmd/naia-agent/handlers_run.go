package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"github.com/nextain/naia-agent/internal/config"
	"github.com/nextain/naia-agent/internal/cron"
	"github.com/nextain/naia-agent/internal/gateway"
	"github.com/nextain/naia-agent/internal/host"
	"github.com/nextain/naia-agent/internal/observability"
	"github.com/nextain/naia-agent/internal/skills"
	"github.com/nextain/naia-agent/internal/tts"
)

// =============================================================================
// Run Command Handler
// =============================================================================

// runAgent loads configuration, wires the runtime and serves the protocol
// until stdin closes or a shutdown signal arrives.
func runAgent(ctx context.Context, opts runOptions, stdin io.Reader, stdout io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	level := cfg.Logging.Level
	if opts.debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:     level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
		Output:    os.Stderr,
	})
	slog.SetDefault(logger.Slog())

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info(ctx, "starting naia-agent",
		"version", version,
		"commit", commit,
		"config", opts.configPath,
	)
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		logger.Info(ctx, "stdin is a terminal; naia-agent expects one JSON request per line, e.g. "+
			`{"type":"chat_request","requestId":"1","provider":{"provider":"anthropic","model":"claude-sonnet-4-20250514","apiKey":"..."},"messages":[{"role":"user","content":"hi"}]}`)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(ctx, cfg.Metrics.Addr, registry, logger)
		defer stop()
	}

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "tracer shutdown failed", "error", err)
		}
	}()

	device, err := gateway.LoadDeviceIdentity(cfg.Gateway.DeviceIdentity)
	if err != nil {
		logger.Warn(ctx, "device identity unavailable; connecting with token only", "path", cfg.Gateway.DeviceIdentity, "error", err)
		device = nil
	}

	manager, err := loadSkills(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer manager.Close()
	if cfg.Skills.Watch {
		if err := manager.Watch(ctx); err != nil {
			logger.Warn(ctx, "skill hot reload disabled", "dir", cfg.Skills.Dir, "error", err)
		}
	}

	speech, err := newSynthesizer(cfg.TTS)
	if err != nil {
		return err
	}

	h := host.New(host.Options{
		Config: cfg,
		Skills: manager,
		Dial: host.NewDialer(gateway.Options{
			ClientID:         cfg.Gateway.ClientID,
			Version:          version,
			HandshakeTimeout: cfg.Gateway.HandshakeTimeout,
			ChallengeTimeout: cfg.Gateway.ChallengeTimeout,
			Logger:           logger,
			Metrics:          metrics,
			Tracer:           tracer,
		}, device),
		Speech:  speech,
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err := h.Serve(ctx, stdin, stdout); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info(context.Background(), "naia-agent stopped")
	return nil
}

func loadSkills(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*skills.Manager, error) {
	manager := skills.NewManager(cfg.Skills.Dir, skills.Builtins(cron.NewStore(cfg.Skills.CronStore)),
		skills.WithLogger(logger))
	if err := manager.Reload(ctx); err != nil {
		return nil, fmt.Errorf("load skills: %w", err)
	}
	return manager, nil
}

func newSynthesizer(cfg config.TTSConfig) (*tts.Synthesizer, error) {
	providers := make([]tts.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers = append(providers, tts.Provider(p))
	}
	return tts.New(tts.Config{
		Providers:     providers,
		MaxTextLength: cfg.MaxTextLength,
		Timeout:       cfg.Timeout,
		GoogleURL:     cfg.GoogleURL,
	})
}

// serveMetrics exposes registry on addr until ctx ends. The returned func
// shuts the server down.
func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger *observability.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info(ctx, "metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "metrics server failed", "error", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
