// Package pipeline runs a transformation job: one breed classification
// followed by three dependent image edits, persisting after every step.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pawtrait/internal/breed"
	"github.com/dunamismax/pawtrait/internal/domain"
	"github.com/dunamismax/pawtrait/internal/stage"
	"github.com/dunamismax/pawtrait/internal/store"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Classifier interface {
	Classify(ctx context.Context, image []byte) breed.Result
}

type StageRunner interface {
	Ready() error
	Run(ctx context.Context, req stage.Request) ([]byte, error)
}

// Observer receives per-job events, typically for metrics.
type Observer interface {
	BreedDetected(kind domain.PipelineKind, res breed.Result)
	StageFinished(kind domain.PipelineKind, stage int, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) BreedDetected(domain.PipelineKind, breed.Result) {}
func (nopObserver) StageFinished(domain.PipelineKind, int, time.Duration, error) {}

// Execution binds one orchestrator run to one job.
type Execution struct {
	OwnerID string
	JobID   string
}

type Orchestrator struct {
	store      store.JobStore
	classifier Classifier
	stages     StageRunner
	models     Models
	observer   Observer
	logger     zerolog.Logger
	tracer     trace.Tracer
}

type Option func(*Orchestrator)

func WithObserver(o Observer) Option {
	return func(orc *Orchestrator) {
		if o != nil {
			orc.observer = o
		}
	}
}

func NewOrchestrator(jobs store.JobStore, classifier Classifier, stages StageRunner, models Models, logger zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      jobs,
		classifier: classifier,
		stages:     stages,
		models:     models,
		observer:   nopObserver{},
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		tracer:     otel.Tracer("github.com/dunamismax/pawtrait/internal/pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run drives one job from Uploaded to Completed or Failed. Only jobs still
// in Uploaded are run; a redelivered execution returns ErrAlreadyStarted
// without touching the job.
func (o *Orchestrator) Run(ctx context.Context, exec Execution) error {
	job, ok, err := o.store.Get(ctx, exec.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", exec.JobID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrJobNotFound, exec.JobID)
	}
	if job.OwnerID != exec.OwnerID {
		return fmt.Errorf("%w: job %s", ErrOwnerMismatch, exec.JobID)
	}
	if job.Status != domain.StatusUploaded {
		return fmt.Errorf("%w: job %s is %s", ErrAlreadyStarted, job.ID, job.Status)
	}

	logger := o.logger.With().
		Str("job_id", job.ID).
		Str("owner_id", job.OwnerID).
		Str("pipeline", string(job.Pipeline)).
		Logger()

	if err := o.stages.Ready(); err != nil {
		return o.fail(ctx, logger, job.ID, &StageError{Action: "checking credentials", Kind: stage.KindConfig, Err: err})
	}

	original, err := o.store.Image(ctx, job.ID, domain.SlotOriginal)
	if err != nil {
		return o.fail(ctx, logger, job.ID, &StageError{Action: "loading original image", Kind: stage.KindTransport, Err: err})
	}

	if _, err := o.store.Advance(ctx, job.ID, domain.StatusDetectingBreed, ""); err != nil {
		// Losing the claim means another execution owns the job now.
		if errors.Is(err, domain.ErrInvalidTransition) {
			return fmt.Errorf("%w: job %s: %v", ErrAlreadyStarted, job.ID, err)
		}
		return o.fail(ctx, logger, job.ID, &StageError{Action: "starting job", Kind: stage.KindTransport, Err: err})
	}

	detected := o.classify(ctx, job, original)
	logger = logger.With().Str("breed", detected.Key).Logger()
	if _, err := o.store.Advance(ctx, job.ID, domain.StatusRunningStage1, detected.Key); err != nil {
		return o.fail(ctx, logger, job.ID, &StageError{Action: "recording breed", Kind: stage.KindTransport, Err: err})
	}

	plan, err := BuildPlan(job.Pipeline, breed.MustLookup(detected.Key), o.models)
	if err != nil {
		return o.fail(ctx, logger, job.ID, &StageError{Action: "planning stages", Kind: stage.KindConfig, Err: err})
	}

	current := original
	for _, step := range plan {
		out, err := o.runStage(ctx, job, step, current)
		if err != nil {
			return o.fail(ctx, logger, job.ID, &StageError{Stage: step.Number, Action: step.Action, Kind: stage.KindOf(err), Err: err})
		}
		if _, err := o.store.RecordStage(ctx, job.ID, step.Slot, out); err != nil {
			return o.fail(ctx, logger, job.ID, &StageError{Stage: step.Number, Action: "saving " + string(step.Slot), Kind: stage.KindTransport, Err: err})
		}
		logger.Info().Int("stage", step.Number).Str("model", step.Model).Int("bytes", len(out)).Msg("stage completed")
		current = out
	}

	logger.Info().Msg("transformation completed")
	return nil
}

func (o *Orchestrator) classify(ctx context.Context, job domain.Job, original []byte) breed.Result {
	ctx, span := o.tracer.Start(ctx, "pipeline.classify", trace.WithAttributes(
		attribute.String("job.id", job.ID),
	))
	defer span.End()

	res := o.classifier.Classify(ctx, original)
	span.SetAttributes(
		attribute.String("breed.key", res.Key),
		attribute.String("breed.resolution", string(res.Resolution)),
	)
	o.observer.BreedDetected(job.Pipeline, res)
	return res
}

func (o *Orchestrator) runStage(ctx context.Context, job domain.Job, step StagePlan, source []byte) ([]byte, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.pipeline", string(job.Pipeline)),
		attribute.Int("stage.number", step.Number),
		attribute.String("stage.model", step.Model),
		attribute.String("stage.mask", string(step.Shape)),
	))
	defer span.End()

	started := time.Now()
	out, err := o.stages.Run(ctx, stage.Request{
		Source: source,
		Prompt: step.Prompt,
		Shape:  step.Shape,
		Model:  step.Model,
	})
	o.observer.StageFinished(job.Pipeline, step.Number, time.Since(started), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

// fail records cause on the job. The write ignores ctx cancellation so a
// shutting-down worker still leaves a terminal state behind.
func (o *Orchestrator) fail(ctx context.Context, logger zerolog.Logger, jobID string, cause *StageError) error {
	logger.Error().Err(cause.Err).Int("stage", cause.Stage).Str("kind", cause.Kind.String()).Msg("transformation failed")

	if _, err := o.store.Fail(context.WithoutCancel(ctx), jobID, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("record failure")
		return errors.Join(cause, fmt.Errorf("record failure: %w", err))
	}
	return cause
}
