package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pawtrait/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeTransform = "transform:run"

// TransformPayload identifies one job to run. Image bytes never travel
// through the queue; the worker reads them from the job store.
type TransformPayload struct {
	JobID       string              `json:"job_id"`
	OwnerID     string              `json:"owner_id"`
	Pipeline    domain.PipelineKind `json:"pipeline"`
	RequestedAt time.Time           `json:"requested_at"`
}

func (p TransformPayload) Validate() error {
	if p.JobID == "" {
		return errors.New("job_id is required")
	}
	if p.OwnerID == "" {
		return errors.New("owner_id is required")
	}
	if !p.Pipeline.Valid() {
		return fmt.Errorf("unknown pipeline %q", p.Pipeline)
	}
	return nil
}

func NewTransformTask(payload TransformPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transform payload: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal transform payload: %w", err)
	}
	return asynq.NewTask(TypeTransform, body), nil
}

func ParseTransformPayload(task *asynq.Task) (TransformPayload, error) {
	var payload TransformPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TransformPayload{}, fmt.Errorf("unmarshal transform payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return TransformPayload{}, fmt.Errorf("invalid transform payload: %w", err)
	}
	return payload, nil
}
