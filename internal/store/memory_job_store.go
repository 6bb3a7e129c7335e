package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dunamismax/pawtrait/internal/domain"
)

type memoryRecord struct {
	job    domain.Job
	images map[domain.Slot][]byte
}

type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*memoryRecord
	now  func() time.Time
}

var _ JobStore = (*MemoryJobStore)(nil)

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]*memoryRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryJobStore) CreateJobs(_ context.Context, jobs []domain.Job, original []byte) error {
	if len(original) == 0 {
		return fmt.Errorf("original image is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range jobs {
		if _, exists := s.jobs[job.ID]; exists {
			return fmt.Errorf("job %s already exists", job.ID)
		}
	}
	shared := bytes.Clone(original)
	for _, job := range jobs {
		stored := job.Clone()
		if stored.Slots == nil {
			stored.Slots = map[domain.Slot]bool{}
		}
		stored.Slots[domain.SlotOriginal] = true
		s.jobs[job.ID] = &memoryRecord{
			job:    stored,
			images: map[domain.Slot][]byte{domain.SlotOriginal: shared},
		}
	}
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false, nil
	}
	return rec.job.Clone(), true, nil
}

func (s *MemoryJobStore) ListByOwner(_ context.Context, ownerID string) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Job
	for _, rec := range s.jobs {
		if rec.job.OwnerID == ownerID {
			out = append(out, rec.job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryJobStore) Image(_ context.Context, id string, slot domain.Slot) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	data, ok := rec.images[slot]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrImageNotFound, id, slot)
	}
	return bytes.Clone(data), nil
}

func (s *MemoryJobStore) Advance(_ context.Context, id string, to domain.Status, breed string) (domain.Job, error) {
	return s.mutate(id, func(job *domain.Job, _ map[domain.Slot][]byte) error {
		if err := job.Advance(to, s.now()); err != nil {
			return err
		}
		if breed != "" {
			job.Breed = breed
		}
		return nil
	})
}

func (s *MemoryJobStore) RecordStage(_ context.Context, id string, slot domain.Slot, data []byte) (domain.Job, error) {
	return s.mutate(id, func(job *domain.Job, images map[domain.Slot][]byte) error {
		if err := job.RecordStage(slot, s.now()); err != nil {
			return err
		}
		images[slot] = bytes.Clone(data)
		return nil
	})
}

func (s *MemoryJobStore) Fail(_ context.Context, id, detail string) (domain.Job, error) {
	return s.mutate(id, func(job *domain.Job, _ map[domain.Slot][]byte) error {
		return job.Fail(detail, s.now())
	})
}

// mutate applies fn to a copy and commits it only when fn succeeds.
func (s *MemoryJobStore) mutate(id string, fn func(*domain.Job, map[domain.Slot][]byte) error) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job := rec.job.Clone()
	staged := make(map[domain.Slot][]byte, 1)
	if err := fn(&job, staged); err != nil {
		return domain.Job{}, err
	}
	for slot, data := range staged {
		rec.images[slot] = data
	}
	rec.job = job
	return job.Clone(), nil
}
