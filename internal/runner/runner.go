// Package runner hands created jobs to something that will execute them:
// the asynq queue in production or an in-process pool for the CLI and
// single-binary deployments.
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/pawtrait/internal/domain"
	"github.com/dunamismax/pawtrait/internal/pipeline"
	"github.com/dunamismax/pawtrait/internal/store"
	"github.com/rs/zerolog"
)

var (
	ErrQueueFull   = errors.New("runner queue is full")
	ErrPoolStopped = errors.New("runner pool is stopped")
)

type Execution struct {
	OwnerID  string
	JobID    string
	Pipeline domain.PipelineKind
}

// Dispatcher schedules one execution. It must not block on the job itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, exec Execution) error
}

// JobRunner executes a job to a terminal state.
type JobRunner interface {
	Run(ctx context.Context, exec pipeline.Execution) error
}

// Submit dispatches every job of one upload. A job whose dispatch fails is
// marked failed so it never sits in uploaded forever; the other jobs of the
// batch are still dispatched.
func Submit(ctx context.Context, d Dispatcher, jobs store.JobStore, created []domain.Job, logger zerolog.Logger) error {
	var errs []error
	for _, job := range created {
		exec := Execution{OwnerID: job.OwnerID, JobID: job.ID, Pipeline: job.Pipeline}
		if err := d.Dispatch(ctx, exec); err != nil {
			logger.Error().Err(err).Str("job_id", job.ID).Msg("dispatch failed")
			detail := fmt.Sprintf("Error (queueing job): %v", err)
			if _, ferr := jobs.Fail(context.WithoutCancel(ctx), job.ID, detail); ferr != nil {
				logger.Error().Err(ferr).Str("job_id", job.ID).Msg("record dispatch failure")
			}
			errs = append(errs, fmt.Errorf("dispatch job %s: %w", job.ID, err))
			continue
		}
		logger.Info().Str("job_id", job.ID).Str("pipeline", string(job.Pipeline)).Msg("job dispatched")
	}
	return errors.Join(errs...)
}
