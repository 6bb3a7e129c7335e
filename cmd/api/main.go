package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pawtrait/internal/api"
	"github.com/dunamismax/pawtrait/internal/app"
	"github.com/dunamismax/pawtrait/internal/config"
	"github.com/dunamismax/pawtrait/internal/imaging"
	"github.com/dunamismax/pawtrait/internal/logging"
	"github.com/dunamismax/pawtrait/internal/queue"
	"github.com/dunamismax/pawtrait/internal/ratelimit"
	"github.com/dunamismax/pawtrait/internal/runner"
	"github.com/dunamismax/pawtrait/internal/store"
	"github.com/dunamismax/pawtrait/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootstrap := logging.New("", "")
		bootstrap.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Log.Env, cfg.Log.Level).With().Str("service", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup tracing")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown")
		}
	}()

	jobs, closeJobs, err := app.OpenJobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open job store")
	}
	defer func() { _ = closeJobs() }()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	defer func() { _ = redisClient.Close() }()

	limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.API.RateLimitBurst, cfg.API.RateLimitRefill, "")
	if err != nil {
		logger.Fatal().Err(err).Msg("init rate limiter")
	}

	dispatcher, stopDispatcher := newDispatcher(ctx, cfg, jobs, logger)
	defer stopDispatcher()

	srv := api.NewServer(logger, cfg.API, api.Deps{
		Jobs:        jobs,
		Dispatcher:  dispatcher,
		RateLimiter: limiter,
	})

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.API.Addr).Str("runner", cfg.API.Runner).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// newDispatcher selects between the asynq queue and an in-process pool.
// The local runner is meant for single-binary deployments.
func newDispatcher(ctx context.Context, cfg config.Config, jobs store.JobStore, logger zerolog.Logger) (runner.Dispatcher, func()) {
	if cfg.API.Runner != "local" {
		client := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
		return runner.NewAsynqDispatcher(client), func() {
			if err := client.Close(); err != nil {
				logger.Error().Err(err).Msg("queue client close")
			}
		}
	}

	if err := imaging.Startup(); err != nil {
		logger.Fatal().Err(err).Msg("start image runtime")
	}
	orchestrator := app.NewOrchestrator(cfg, jobs, logger)
	pool := runner.NewLocalPool(orchestrator, cfg.Worker.MaxActiveJobs, cfg.Worker.QueueDepth, logger)
	pool.Start(context.WithoutCancel(ctx))
	return pool, func() {
		if err := pool.Stop(); err != nil {
			logger.Error().Err(err).Msg("local pool stop")
		}
		imaging.Shutdown()
	}
}
