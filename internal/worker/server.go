package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/pawtrait/internal/config"
	"github.com/dunamismax/pawtrait/internal/domain"
	"github.com/dunamismax/pawtrait/internal/logging"
	"github.com/dunamismax/pawtrait/internal/pipeline"
	"github.com/dunamismax/pawtrait/internal/queue"
	"github.com/dunamismax/pawtrait/internal/runner"
	"github.com/dunamismax/pawtrait/internal/store"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

type Server struct {
	logger  zerolog.Logger
	server  *asynq.Server
	sem     *semaphore.Weighted
	jobs    store.JobStore
	runner  runner.JobRunner
	metrics *Metrics
	tracer  trace.Tracer
}

func NewServer(
	logger zerolog.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	jobs store.JobStore,
	run runner.JobRunner,
	metrics *Metrics,
) (*Server, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if run == nil {
		return nil, fmt.Errorf("job runner is required")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	logger = logger.With().Str("component", "worker").Logger()
	s := newServer(logger, workerCfg.MaxActiveJobs, jobs, run, metrics)
	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			Logger:          logging.NewAsynqLogger(logger),
			LogLevel:        asynq.InfoLevel,
			ShutdownTimeout: workerCfg.ShutdownTimeout,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID, _ := asynq.GetTaskID(ctx)
				logger.Error().Err(err).Str("task_type", task.Type()).Str("task_id", taskID).Msg("task failed")
			}),
		},
	)
	return s, nil
}

func newServer(logger zerolog.Logger, maxActive int, jobs store.JobStore, run runner.JobRunner, metrics *Metrics) *Server {
	return &Server{
		logger:  logger,
		sem:     semaphore.NewWeighted(int64(max(1, maxActive))),
		jobs:    jobs,
		runner:  run,
		metrics: metrics,
		tracer:  otel.Tracer("pawtrait/worker"),
	}
}

// Run blocks until the process receives SIGTERM or SIGINT.
func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeTransform, s.handleTransform)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// handleTransform never asks asynq to retry: a job's own status records
// its failure and a rerun would start from a non-uploaded state anyway.
func (s *Server) handleTransform(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseTransformPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.transform", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.pipeline", string(payload.Pipeline)),
	)
	defer span.End()

	logger := s.logger.With().Str("job_id", payload.JobID).Str("pipeline", string(payload.Pipeline)).Logger()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.abandon(ctx, logger, payload, err)
		s.metrics.jobsTotal.WithLabelValues(string(payload.Pipeline), "failed").Inc()
		return fmt.Errorf("wait for execution slot: %v: %w", err, asynq.SkipRetry)
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		s.sem.Release(1)
		s.metrics.activeJobs.Dec()
	}()

	startedAt := time.Now()
	logger.Info().Msg("transformation started")
	err = s.runner.Run(ctx, pipeline.Execution{OwnerID: payload.OwnerID, JobID: payload.JobID})
	s.metrics.observeJob(payload.Pipeline, outcomeOf(err), time.Since(startedAt))

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "completed")
		return nil
	case errors.Is(err, pipeline.ErrAlreadyStarted):
		logger.Info().Msg("job already started, dropping redelivery")
		return nil
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "transformation failed")
		return fmt.Errorf("run transformation: %v: %w", err, asynq.SkipRetry)
	}
}

// abandon fails a job the worker gave up on before running it. Only jobs
// still in uploaded are touched.
func (s *Server) abandon(ctx context.Context, logger zerolog.Logger, payload queue.TransformPayload, cause error) {
	ctx = context.WithoutCancel(ctx)
	job, ok, err := s.jobs.Get(ctx, payload.JobID)
	if err != nil || !ok || job.Status != domain.StatusUploaded {
		logger.Warn().Err(err).Bool("found", ok).Msg("not failing abandoned job")
		return
	}
	detail := fmt.Sprintf("Error (waiting for execution slot): %v", cause)
	if _, err := s.jobs.Fail(ctx, payload.JobID, detail); err != nil {
		logger.Error().Err(err).Msg("record abandoned job")
		return
	}
	logger.Warn().Err(cause).Msg("job abandoned before start")
}
