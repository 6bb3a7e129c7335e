package runner

import (
	"context"
	"errors"
	"sync"

	"github.com/dunamismax/pawtrait/internal/pipeline"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// LocalPool runs executions on a fixed set of goroutines fed by a bounded
// queue. Dispatch never blocks: a full queue returns ErrQueueFull.
type LocalPool struct {
	runner  JobRunner
	workers int
	logger  zerolog.Logger

	mu      sync.Mutex
	queue   chan Execution
	stopped bool
	group   *errgroup.Group
}

func NewLocalPool(runner JobRunner, workers, depth int, logger zerolog.Logger) *LocalPool {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	return &LocalPool{
		runner:  runner,
		workers: workers,
		queue:   make(chan Execution, depth),
		logger:  logger.With().Str("component", "local_pool").Logger(),
	}
}

// Start launches the workers. Jobs run under ctx; cancelling it aborts
// in-flight stages, which then record their failure.
func (p *LocalPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.group != nil || p.stopped {
		return
	}

	p.group = &errgroup.Group{}
	for i := 0; i < p.workers; i++ {
		p.group.Go(func() error {
			for exec := range p.queue {
				p.run(ctx, exec)
			}
			return nil
		})
	}
}

func (p *LocalPool) Dispatch(_ context.Context, exec Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.queue <- exec:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new work and waits for queued jobs to drain.
func (p *LocalPool) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	group := p.group
	p.mu.Unlock()

	if group == nil {
		return nil
	}
	return group.Wait()
}

func (p *LocalPool) run(ctx context.Context, exec Execution) {
	logger := p.logger.With().Str("job_id", exec.JobID).Logger()
	err := p.runner.Run(ctx, pipeline.Execution{OwnerID: exec.OwnerID, JobID: exec.JobID})
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrAlreadyStarted):
		logger.Debug().Msg("job already started, skipping")
	default:
		logger.Warn().Err(err).Msg("job finished with error")
	}
}
