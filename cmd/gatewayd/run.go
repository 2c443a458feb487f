package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	"github.com/routellm/gateway/internal/config"
	"github.com/routellm/gateway/internal/keypool"
	"github.com/routellm/gateway/internal/provider"
	"github.com/routellm/gateway/internal/provider/anthropic"
	"github.com/routellm/gateway/internal/provider/deepseek"
	"github.com/routellm/gateway/internal/provider/gemini"
	"github.com/routellm/gateway/internal/provider/openai"
	"github.com/routellm/gateway/internal/queue"
	"github.com/routellm/gateway/internal/runengine"
	"github.com/routellm/gateway/internal/server"
	"github.com/routellm/gateway/internal/storage/sqlite"
	"github.com/routellm/gateway/internal/syncchat"
	"github.com/routellm/gateway/internal/telemetry"
	"github.com/routellm/gateway/internal/timeseries"
	"github.com/routellm/gateway/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting gatewayd", "version", version, "addr", cfg.Server.Addr)

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	dsnLog := cfg.Database.DSN
	if i := strings.IndexByte(dsnLog, '?'); i >= 0 {
		dsnLog = dsnLog[:i]
	}
	slog.Info("database opened", "dsn", dsnLog)

	ctx := context.Background()
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	for _, k := range cfg.Keys {
		if k.APIKey == "" {
			slog.Warn("api key empty, skipped", "display_name", k.DisplayName)
			continue
		}
		slog.Info("api key configured", "provider", k.Provider, "display_name", k.DisplayName)
	}

	// Shared DNS cache for all provider HTTP clients.
	dnsResolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			dnsResolver.Refresh(true)
		}
	}()

	reg := provider.NewRegistry()
	for _, p := range cfg.Providers {
		if !p.IsEnabled() {
			slog.Info("provider skipped (disabled)", "name", p.Name)
			continue
		}

		timeout := time.Duration(p.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = time.Duration(cfg.SyncChat.ProviderTimeoutSeconds) * time.Second
		}
		if timeout <= 0 {
			timeout = 60 * time.Second
		}

		var adapter provider.Adapter
		switch p.ResolvedType() {
		case "openai":
			adapter = openai.New(p.Name, p.BaseURL, p.DefaultModel, cfg.SyncChat.DefaultMaxTokens, timeout, dnsResolver)
		case "anthropic":
			adapter = anthropic.New(p.BaseURL, p.DefaultModel, cfg.SyncChat.DefaultMaxTokens, timeout, dnsResolver)
		case "gemini":
			adapter = gemini.New(p.BaseURL, p.DefaultModel, cfg.SyncChat.DefaultMaxTokens, timeout, dnsResolver)
		case "deepseek":
			adapter = deepseek.New(p.BaseURL, p.DefaultModel, cfg.SyncChat.DefaultMaxTokens, timeout, dnsResolver)
		default:
			slog.Warn("unknown provider type, skipping", "name", p.Name, "type", p.ResolvedType())
			continue
		}
		reg.Register(p.Name, adapter)
		slog.Info("provider registered", "name", p.Name, "type", p.ResolvedType())
	}

	// Prometheus metrics. Constructed before the key pool so Select/MarkError
	// can record KeySelections/KeyErrorsTotal from the start.
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	promRegistry := prometheus.NewRegistry()
	if cfg.Telemetry.Metrics.Enabled {
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promRegistry.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}

	// Key pool: health-aware credential selection across providers.
	pool := keypool.New(store, store, metrics, keypool.Config{
		RPMWindow:           time.Duration(cfg.KeyPool.RPMWindowSeconds) * time.Second,
		CooldownOnRateLimit: time.Duration(cfg.KeyPool.CooldownSecondsOn429) * time.Second,
		CooldownOnTransient: time.Duration(cfg.KeyPool.CooldownSecondsOnTransient) * time.Second,
		ErrorDecay:          time.Duration(cfg.KeyPool.ErrorDecayMinutes) * time.Minute,
		ListCacheTTL:        time.Duration(cfg.KeyPool.ListCacheSeconds) * time.Second,
	})

	series := timeseries.New(store, time.Now)

	chat := syncchat.New(reg, pool, store, series, cfg.SyncChat.MaxRetries, time.Now)

	runCfg := runengine.Config{
		MaxAttempts: cfg.Worker.MaxAttempts,
		BaseBackoff: time.Duration(cfg.Worker.BaseBackoffSeconds) * time.Second,
		MaxBackoff:  time.Duration(cfg.Worker.MaxBackoffSeconds) * time.Second,
	}

	// OpenTelemetry tracing.
	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		endpoint := cfg.Telemetry.Tracing.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		sampleRate := cfg.Telemetry.Tracing.SampleRate
		if sampleRate == 0 {
			sampleRate = 0.1
		}
		shutdown, err := telemetry.SetupTracing(ctx, endpoint, sampleRate)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("gatewayd/server")
			slog.Info("opentelemetry tracing enabled", "endpoint", endpoint, "sample_rate", sampleRate)
		}
	}

	// Durable job queue backing the async run engine.
	kq, err := queue.NewKafkaQueue(cfg.Queue.Brokers, cfg.Queue.Topic, cfg.Queue.ConsumerGroup)
	if err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	defer kq.Close()

	producer := runengine.NewProducer(store, kq, time.Now)
	runWorker := runengine.NewWorker(store, store, chat, metrics, runCfg, time.Now)

	workers := []worker.Worker{
		worker.NewRunDispatchWorker(store, kq, time.Now),
		worker.NewRunProcessWorker(kq, runWorker),
		worker.NewKeyDecayWorker(store, pool, time.Now),
	}
	runner := worker.NewRunner(workers...)

	handler := server.New(server.Deps{
		Chat:           chat,
		Runs:           producer,
		RunStore:       store,
		Keys:           store,
		Series:         series,
		AdminToken:     cfg.Auth.AdminToken,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Tracer:         tracer,
		ReadyCheck:     store.Ping,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// Start background workers.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("llm gateway enabled",
		"endpoints", []string{
			"POST /v1/llm/chat",
			"POST /v1/agent/runs",
			"GET  /v1/agent/runs/{id}",
			"POST /v1/agent/runs/{id}/cancel",
			"GET  /v1/admin/keys",
			"GET  /v1/stats/keys/{id}/timeseries",
		},
	)
	slog.Info("gatewayd ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		workerCancel()
		return err
	}

	// Shutdown HTTP first, then workers (so in-flight requests finish recording).
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("gatewayd stopped")
	return nil
}
