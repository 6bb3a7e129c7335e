package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dunamismax/pawtrait/internal/app"
	"github.com/dunamismax/pawtrait/internal/config"
	"github.com/dunamismax/pawtrait/internal/imaging"
	"github.com/dunamismax/pawtrait/internal/logging"
	"github.com/dunamismax/pawtrait/internal/pipeline"
	"github.com/dunamismax/pawtrait/internal/telemetry"
	"github.com/dunamismax/pawtrait/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootstrap := logging.New("", "")
		bootstrap.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Log.Env, cfg.Log.Level).With().Str("service", "worker").Logger()
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup tracing")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	if err := imaging.Startup(); err != nil {
		logger.Fatal().Err(err).Msg("start image runtime")
	}
	defer imaging.Shutdown()

	jobs, closeJobs, err := app.OpenJobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open job store")
	}
	defer func() { _ = closeJobs() }()

	metrics := worker.NewMetrics()
	orchestrator := app.NewOrchestrator(cfg, jobs, logger, pipeline.WithObserver(metrics))

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, jobs, orchestrator, metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("init worker")
	}

	metricsServer := newMetricsServer(cfg.Worker, srv.MetricsHandler())
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Int("max_active_jobs", cfg.Worker.MaxActiveJobs).
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Msg("starting worker")

	runErr := srv.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	if runErr != nil {
		logger.Fatal().Err(runErr).Msg("worker failed")
	}
}

func newMetricsServer(cfg config.WorkerConfig, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", handler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
