package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// DefaultTaskTimeout bounds one whole job: classification plus three edits.
const DefaultTaskTimeout = 15 * time.Minute

type Client struct {
	client  *asynq.Client
	queue   string
	timeout time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client:  asynq.NewClient(redisOpt),
		queue:   queueName,
		timeout: DefaultTaskTimeout,
	}
}

// EnqueueTransform submits a job exactly once. The job id doubles as the
// task id, so a second submission of the same job is rejected by asynq
// with asynq.ErrTaskIDConflict. A failed job is never retried.
func (c *Client) EnqueueTransform(ctx context.Context, payload TransformPayload) (*asynq.TaskInfo, error) {
	task, err := NewTransformTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, TaskOptions(c.queue, payload.JobID, c.timeout)...)
}

func TaskOptions(queueName, jobID string, timeout time.Duration) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(queueName),
		asynq.TaskID(jobID),
		asynq.MaxRetry(0),
		asynq.Timeout(timeout),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}
