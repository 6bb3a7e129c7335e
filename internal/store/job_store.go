package store

import (
	"context"
	"errors"

	"github.com/dunamismax/pawtrait/internal/domain"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrImageNotFound = errors.New("image not found")
)

// JobStore persists transformation jobs and their image slots. Mutating
// calls validate against the job's current status and fail with
// domain.ErrInvalidTransition rather than skip or rewind a state.
type JobStore interface {
	// CreateJobs inserts one upload's rows atomically. Every job shares original.
	CreateJobs(ctx context.Context, jobs []domain.Job, original []byte) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Job, error)
	Image(ctx context.Context, id string, slot domain.Slot) ([]byte, error)

	// Advance moves a job one status forward. A non-empty breed is stored
	// with the transition.
	Advance(ctx context.Context, id string, to domain.Status, breed string) (domain.Job, error)
	// RecordStage stores a stage's output and advances past that stage.
	RecordStage(ctx context.Context, id string, slot domain.Slot, data []byte) (domain.Job, error)
	Fail(ctx context.Context, id, detail string) (domain.Job, error)
}
