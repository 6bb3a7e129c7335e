package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/pawtrait/internal/id"
)

type Status string

const (
	StatusUploaded       Status = "uploaded"
	StatusDetectingBreed Status = "detecting"
	StatusRunningStage1  Status = "generating_1"
	StatusRunningStage2  Status = "generating_2"
	StatusRunningStage3  Status = "generating_final"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "error"
)

// PipelineKind selects which edit model backs stages 1 and 2.
type PipelineKind string

const (
	PipelineDalleGPT PipelineKind = "dalle_gpt"
	PipelineGPTOnly  PipelineKind = "gpt_only"
)

// Selection is what an upload asks for: one pipeline or both.
type Selection string

const (
	SelectDalleGPT Selection = Selection(PipelineDalleGPT)
	SelectGPTOnly  Selection = Selection(PipelineGPTOnly)
	SelectBoth     Selection = "both"
)

// Slot names one of the four images a job exposes.
type Slot string

const (
	SlotOriginal Slot = "original"
	SlotStage1   Slot = "transition1"
	SlotStage2   Slot = "transition2"
	SlotFinal    Slot = "final"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrSlotAlreadySet    = errors.New("image slot already set")
	ErrUnknownSlot       = errors.New("unknown image slot")
)

var progressByStatus = map[Status]float64{
	StatusUploaded:       0,
	StatusDetectingBreed: 12.5,
	StatusRunningStage1:  37.5,
	StatusRunningStage2:  62.5,
	StatusRunningStage3:  87.5,
	StatusCompleted:      100,
	StatusFailed:         0,
}

var nextStatus = map[Status]Status{
	StatusUploaded:       StatusDetectingBreed,
	StatusDetectingBreed: StatusRunningStage1,
	StatusRunningStage1:  StatusRunningStage2,
	StatusRunningStage2:  StatusRunningStage3,
	StatusRunningStage3:  StatusCompleted,
}

// stageSlots maps a running status to the slot its stage fills.
var stageSlots = map[Status]Slot{
	StatusRunningStage1: SlotStage1,
	StatusRunningStage2: SlotStage2,
	StatusRunningStage3: SlotFinal,
}

func (s Status) Valid() bool {
	_, ok := progressByStatus[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress is the 0-100 value shown to polling clients.
func (s Status) Progress() float64 {
	return progressByStatus[s]
}

// Next returns the forward successor, if any.
func (s Status) Next() (Status, bool) {
	next, ok := nextStatus[s]
	return next, ok
}

func CanTransition(from, to Status) bool {
	if to == StatusFailed {
		return from.Valid() && !from.Terminal()
	}
	next, ok := from.Next()
	return ok && next == to
}

func (k PipelineKind) Valid() bool {
	return k == PipelineDalleGPT || k == PipelineGPTOnly
}

// ParseSelection accepts an upload's pipeline field. Empty selects gpt_only.
func ParseSelection(raw string) (Selection, error) {
	switch Selection(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return SelectGPTOnly, nil
	case SelectDalleGPT:
		return SelectDalleGPT, nil
	case SelectGPTOnly:
		return SelectGPTOnly, nil
	case SelectBoth:
		return SelectBoth, nil
	default:
		return "", fmt.Errorf("unsupported pipeline: %s", raw)
	}
}

// Kinds expands a selection into the pipelines to run, in display order.
func (s Selection) Kinds() []PipelineKind {
	switch s {
	case SelectBoth:
		return []PipelineKind{PipelineDalleGPT, PipelineGPTOnly}
	case SelectDalleGPT:
		return []PipelineKind{PipelineDalleGPT}
	default:
		return []PipelineKind{PipelineGPTOnly}
	}
}

func ParseSlot(raw string) (Slot, error) {
	switch Slot(raw) {
	case SlotOriginal, SlotStage1, SlotStage2, SlotFinal:
		return Slot(raw), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownSlot, raw)
	}
}

// SlotForStage returns the slot filled by stage n (1-3).
func SlotForStage(n int) (Slot, bool) {
	switch n {
	case 1:
		return SlotStage1, true
	case 2:
		return SlotStage2, true
	case 3:
		return SlotFinal, true
	default:
		return "", false
	}
}

// Job is one photo moving through one pipeline. Image bytes live in the
// store; Slots records which of them are present.
type Job struct {
	ID          string
	OwnerID     string
	Pipeline    PipelineKind
	Status      Status
	Breed       string
	ErrorDetail string
	BatchKey    string
	Slots       map[Slot]bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (j Job) HasSlot(slot Slot) bool {
	return j.Slots[slot]
}

// Advance moves the job one step forward.
func (j *Job) Advance(to Status, now time.Time) error {
	if to == StatusFailed || !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = now
	return nil
}

// Fail marks a non-terminal job as failed with a detail message.
func (j *Job) Fail(detail string, now time.Time) error {
	if !CanTransition(j.Status, StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusFailed)
	}
	j.Status = StatusFailed
	j.ErrorDetail = detail
	j.UpdatedAt = now
	return nil
}

// RecordStage fills the slot owned by the running stage and advances status.
// A slot is written once; a stage can only record while it is running.
func (j *Job) RecordStage(slot Slot, now time.Time) error {
	want, ok := stageSlots[j.Status]
	if !ok || want != slot {
		return fmt.Errorf("%w: cannot record %s while %s", ErrInvalidTransition, slot, j.Status)
	}
	if j.Slots[slot] {
		return fmt.Errorf("%w: %s", ErrSlotAlreadySet, slot)
	}
	next, _ := j.Status.Next()
	if j.Slots == nil {
		j.Slots = make(map[Slot]bool, 4)
	}
	j.Slots[slot] = true
	j.Status = next
	j.UpdatedAt = now
	return nil
}

// Clone returns a copy that shares nothing mutable with j.
func (j Job) Clone() Job {
	out := j
	out.Slots = make(map[Slot]bool, len(j.Slots))
	for slot, set := range j.Slots {
		out.Slots[slot] = set
	}
	return out
}

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

type UploadRequest struct {
	OwnerID   string
	Filename  string
	Size      int64
	Selection Selection
}

func (r UploadRequest) Validate(maxBytes int64) error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return errors.New("owner is required")
	}
	if strings.TrimSpace(r.Filename) == "" {
		return errors.New("image file is required")
	}
	ext := strings.ToLower(filepath.Ext(r.Filename))
	if !allowedExtensions[ext] {
		return fmt.Errorf("unsupported image type: %s", ext)
	}
	if r.Size <= 0 {
		return errors.New("image file is empty")
	}
	if maxBytes > 0 && r.Size > maxBytes {
		return fmt.Errorf("image exceeds %d bytes", maxBytes)
	}
	if _, err := ParseSelection(string(r.Selection)); err != nil {
		return err
	}
	return nil
}

// NewJobs builds the rows for one upload: one job, or a batch pair sharing a
// batch key when both pipelines are selected.
func NewJobs(ownerID string, selection Selection, now time.Time) []Job {
	kinds := selection.Kinds()
	batchKey := ""
	if len(kinds) > 1 {
		batchKey = id.BatchKey(ownerID, now)
	}

	jobs := make([]Job, 0, len(kinds))
	for _, kind := range kinds {
		jobs = append(jobs, Job{
			ID:        id.New(),
			OwnerID:   ownerID,
			Pipeline:  kind,
			Status:    StatusUploaded,
			BatchKey:  batchKey,
			Slots:     map[Slot]bool{SlotOriginal: true},
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return jobs
}
