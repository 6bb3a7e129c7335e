package runner

import (
	"context"
	"time"

	"github.com/dunamismax/pawtrait/internal/queue"
	"github.com/hibiken/asynq"
)

type enqueuer interface {
	EnqueueTransform(ctx context.Context, payload queue.TransformPayload) (*asynq.TaskInfo, error)
}

// AsynqDispatcher enqueues executions for cmd/worker.
type AsynqDispatcher struct {
	client enqueuer
	now    func() time.Time
}

func NewAsynqDispatcher(client *queue.Client) *AsynqDispatcher {
	return &AsynqDispatcher{client: client, now: func() time.Time { return time.Now().UTC() }}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, exec Execution) error {
	_, err := d.client.EnqueueTransform(ctx, queue.TransformPayload{
		JobID:       exec.JobID,
		OwnerID:     exec.OwnerID,
		Pipeline:    exec.Pipeline,
		RequestedAt: d.now(),
	})
	return err
}
