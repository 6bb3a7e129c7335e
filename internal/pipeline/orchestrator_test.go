package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/pawtrait/internal/breed"
	"github.com/dunamismax/pawtrait/internal/domain"
	"github.com/dunamismax/pawtrait/internal/mask"
	"github.com/dunamismax/pawtrait/internal/stage"
	"github.com/dunamismax/pawtrait/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testModels = Models{Legacy: "dall-e-2", Current: "gpt-image-1"}

type fakeClassifier struct {
	result breed.Result
	calls  int
}

func (c *fakeClassifier) Classify(context.Context, []byte) breed.Result {
	c.calls++
	return c.result
}

type fakeStages struct {
	mu       sync.Mutex
	readyErr error
	failOn   func(call int, req stage.Request) error
	requests []stage.Request
}

func (s *fakeStages) Ready() error { return s.readyErr }

func (s *fakeStages) Run(_ context.Context, req stage.Request) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	call := len(s.requests)
	if s.failOn != nil {
		if err := s.failOn(call, req); err != nil {
			return nil, err
		}
	}
	return []byte(fmt.Sprintf("edit-%d-%s", call, req.Model)), nil
}

type recordingObserver struct {
	breeds []breed.Result
	stages []int
	failed []int
}

func (o *recordingObserver) BreedDetected(_ domain.PipelineKind, res breed.Result) {
	o.breeds = append(o.breeds, res)
}

func (o *recordingObserver) StageFinished(_ domain.PipelineKind, n int, _ time.Duration, err error) {
	o.stages = append(o.stages, n)
	if err != nil {
		o.failed = append(o.failed, n)
	}
}

func seedJobs(t *testing.T, jobs *store.MemoryJobStore, selection domain.Selection) []domain.Job {
	t.Helper()
	created := domain.NewJobs("acct-1", selection, time.Now().UTC())
	require.NoError(t, jobs.CreateJobs(context.Background(), created, []byte("original-png")))
	return created
}

func beagle() *fakeClassifier {
	return &fakeClassifier{result: breed.Result{Key: "beagle", Resolution: breed.ResolvedKey}}
}

func TestRunCompletesAndThreadsEachOutputIntoNextStage(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	job := seedJobs(t, jobs, domain.SelectGPTOnly)[0]
	stages := &fakeStages{}
	observer := &recordingObserver{}
	orc := NewOrchestrator(jobs, beagle(), stages, testModels, zerolog.Nop(), WithObserver(observer))

	require.NoError(t, orc.Run(context.Background(), Execution{OwnerID: "acct-1", JobID: job.ID}))

	got, ok, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "beagle", got.Breed)
	assert.Empty(t, got.ErrorDetail)

	require.Len(t, stages.requests, 3)
	assert.Equal(t, []byte("original-png"), stages.requests[0].Source)
	assert.Equal(t, []byte("edit-1-gpt-image-1"), stages.requests[1].Source)
	assert.Equal(t, []byte("edit-2-gpt-image-1"), stages.requests[2].Source)
	assert.Equal(t, mask.ShapeSafeRadius, stages.requests[0].Shape)
	assert.Equal(t, mask.ShapeFace, stages.requests[1].Shape)
	assert.Equal(t, mask.ShapeHeadAndBody, stages.requests[2].Shape)

	final, err := jobs.Image(context.Background(), job.ID, domain.SlotFinal)
	require.NoError(t, err)
	assert.Equal(t, []byte("edit-3-gpt-image-1"), final)

	assert.Equal(t, []int{1, 2, 3}, observer.stages)
	assert.Empty(t, observer.failed)
	require.Len(t, observer.breeds, 1)
}

func TestRunRecordsStageThreeFailureAndKeepsEarlierSlots(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	job := seedJobs(t, jobs, domain.SelectGPTOnly)[0]
	stages := &fakeStages{failOn: func(call int, _ stage.Request) error {
		if call == 3 {
			return errors.New("connection reset")
		}
		return nil
	}}
	classifier := beagle()
	orc := NewOrchestrator(jobs, classifier, stages, testModels, zerolog.Nop())

	err := orc.Run(context.Background(), Execution{OwnerID: "acct-1", JobID: job.ID})
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, 3, stageErr.Stage)
	assert.Equal(t, stage.KindTransport, stageErr.Kind)

	got, _, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "beagle", got.Breed)
	assert.Contains(t, got.ErrorDetail, "Stage 3")
	assert.Contains(t, got.ErrorDetail, "connection reset")

	first, err := jobs.Image(context.Background(), job.ID, domain.SlotStage1)
	require.NoError(t, err)
	assert.Equal(t, []byte("edit-1-gpt-image-1"), first)
	second, err := jobs.Image(context.Background(), job.ID, domain.SlotStage2)
	require.NoError(t, err)
	assert.Equal(t, []byte("edit-2-gpt-image-1"), second)

	assert.False(t, got.HasSlot(domain.SlotFinal))
	_, err = jobs.Image(context.Background(), job.ID, domain.SlotFinal)
	assert.ErrorIs(t, err, store.ErrImageNotFound)

	require.Len(t, stages.requests, 3)
	assert.Equal(t, first, stages.requests[1].Source)
	assert.Equal(t, second, stages.requests[2].Source)
	assert.Equal(t, mask.ShapeHeadAndBody, stages.requests[2].Shape)
}

// startFailStore fails the first transition out of uploaded.
type startFailStore struct {
	*store.MemoryJobStore
	err error
}

func (s *startFailStore) Advance(ctx context.Context, id string, to domain.Status, breedKey string) (domain.Job, error) {
	if to == domain.StatusDetectingBreed {
		return domain.Job{}, s.err
	}
	return s.MemoryJobStore.Advance(ctx, id, to, breedKey)
}

func TestRunFailsJobWhenStartCannotBePersisted(t *testing.T) {
	mem := store.NewMemoryJobStore()
	job := seedJobs(t, mem, domain.SelectGPTOnly)[0]
	jobs := &startFailStore{MemoryJobStore: mem, err: errors.New("connection refused")}
	classifier := beagle()
	orc := NewOrchestrator(jobs, classifier, &fakeStages{}, testModels, zerolog.Nop())

	err := orc.Run(context.Background(), Execution{OwnerID: "acct-1", JobID: job.ID})
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)

	got, _, err := mem.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "Error (starting job): connection refused", got.ErrorDetail)
	assert.Zero(t, classifier.calls)
}

func TestRunTreatsLostStartRaceAsAlreadyStarted(t *testing.T) {
	mem := store.NewMemoryJobStore()
	job := seedJobs(t, mem, domain.SelectGPTOnly)[0]
	jobs := &startFailStore{MemoryJobStore: mem, err: fmt.Errorf("%w: lost a concurrent update", domain.ErrInvalidTransition)}
	orc := NewOrchestrator(jobs, beagle(), &fakeStages{}, testModels, zerolog.Nop())

	err := orc.Run(context.Background(), Execution{OwnerID: "acct-1", JobID: job.ID})
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	got, _, err := mem.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUploaded, got.Status)
	assert.Empty(t, got.ErrorDetail)
}

func TestRunFailsBeforeDetectionWhenCredentialsMissing(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	job := seedJobs(t, jobs, domain.SelectGPTOnly)[0]
	classifier := beagle()
	stages := &fakeStages{readyErr: errors.New("api key not set")}
	orc := NewOrchestrator(jobs, classifier, stages, testModels, zerolog.Nop())

	err := orc.Run(context.Background(), Execution{OwnerID: "acct-1", JobID: job.ID})
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, stage.KindConfig, stageErr.Kind)

	got, _, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorDetail, "api key not set")
	assert.Zero(t, classifier.calls)
	assert.Empty(t, stages.requests)
}

func TestRunRejectsForeignOwner(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	job := seedJobs(t, jobs, domain.SelectGPTOnly)[0]
	orc := NewOrchestrator(jobs, beagle(), &fakeStages{}, testModels, zerolog.Nop())

	err := orc.Run(context.Background(), Execution{OwnerID: "acct-2", JobID: job.ID})
	assert.ErrorIs(t, err, ErrOwnerMismatch)

	got, _, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUploaded, got.Status)
}

func TestRunSkipsJobsAlreadyStarted(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	job := seedJobs(t, jobs, domain.SelectGPTOnly)[0]
	stages := &fakeStages{}
	orc := NewOrchestrator(jobs, beagle(), stages, testModels, zerolog.Nop())

	require.NoError(t, orc.Run(context.Background(), Execution{OwnerID: "acct-1", JobID: job.ID}))
	err := orc.Run(context.Background(), Execution{OwnerID: "acct-1", JobID: job.ID})
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Len(t, stages.requests, 3)
}

func TestRunUnknownJob(t *testing.T) {
	orc := NewOrchestrator(store.NewMemoryJobStore(), beagle(), &fakeStages{}, testModels, zerolog.Nop())

	err := orc.Run(context.Background(), Execution{OwnerID: "acct-1", JobID: "missing"})
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestBatchJobsFailIndependently(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	batch := seedJobs(t, jobs, domain.SelectBoth)
	stages := &fakeStages{failOn: func(_ int, req stage.Request) error {
		if req.Model == testModels.Legacy {
			return &stage.Error{Kind: stage.KindDecode, Err: errors.New("edit response has neither url nor b64_json")}
		}
		return nil
	}}
	orc := NewOrchestrator(jobs, beagle(), stages, testModels, zerolog.Nop())

	for _, job := range batch {
		_ = orc.Run(context.Background(), Execution{OwnerID: "acct-1", JobID: job.ID})
	}

	for _, job := range batch {
		got, _, err := jobs.Get(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.BatchKey, got.BatchKey)
		switch got.Pipeline {
		case domain.PipelineDalleGPT:
			assert.Equal(t, domain.StatusFailed, got.Status)
			assert.Contains(t, got.ErrorDetail, "Stage 1 Error (adding ears)")
		case domain.PipelineGPTOnly:
			assert.Equal(t, domain.StatusCompleted, got.Status)
		}
	}
}

func TestRecordFailureSurvivesCancelledContext(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	job := seedJobs(t, jobs, domain.SelectGPTOnly)[0]
	ctx, cancel := context.WithCancel(context.Background())
	stages := &fakeStages{failOn: func(call int, _ stage.Request) error {
		if call == 2 {
			cancel()
			return context.Canceled
		}
		return nil
	}}
	orc := NewOrchestrator(jobs, beagle(), stages, testModels, zerolog.Nop())

	err := orc.Run(ctx, Execution{OwnerID: "acct-1", JobID: job.ID})
	require.ErrorIs(t, err, context.Canceled)

	got, _, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorDetail, "Stage 2")
}

func TestExportWritesPresentSlots(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	job := seedJobs(t, jobs, domain.SelectGPTOnly)[0]
	orc := NewOrchestrator(jobs, beagle(), &fakeStages{}, testModels, zerolog.Nop())
	require.NoError(t, orc.Run(context.Background(), Execution{OwnerID: "acct-1", JobID: job.ID}))

	dir := t.TempDir()
	written, err := Export(context.Background(), jobs, job.ID, dir)
	require.NoError(t, err)
	require.Len(t, written, 4)

	data, err := os.ReadFile(filepath.Join(dir, job.ID, "final.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("edit-3-gpt-image-1"), data)
}

func TestSanitizePathToken(t *testing.T) {
	assert.Equal(t, "unknown", sanitizePathToken("  "))
	assert.Equal(t, "a_b-c_d", sanitizePathToken("a/b-c.d"))
}

func TestBuildPlan(t *testing.T) {
	b := breed.MustLookup("husky")

	plan, err := BuildPlan(domain.PipelineDalleGPT, b, testModels)
	require.NoError(t, err)
	require.Len(t, plan, 3)
	assert.Equal(t, "dall-e-2", plan[0].Model)
	assert.Equal(t, "dall-e-2", plan[1].Model)
	assert.Equal(t, "gpt-image-1", plan[2].Model)
	assert.Equal(t, "finalizing with gpt-image-1", plan[2].Action)
	assert.Equal(t, domain.SlotFinal, plan[2].Slot)
	assert.Equal(t, mask.ShapeFullHead, plan[2].Shape)

	plan, err = BuildPlan(domain.PipelineGPTOnly, b, testModels)
	require.NoError(t, err)
	for _, step := range plan {
		assert.Equal(t, "gpt-image-1", step.Model)
		assert.NotEmpty(t, step.Prompt)
	}

	_, err = BuildPlan("sdxl", b, testModels)
	assert.Error(t, err)
}

func TestStageErrorMessage(t *testing.T) {
	err := &StageError{Stage: 2, Action: "adding snout", Err: errors.New("boom")}
	assert.Equal(t, "Stage 2 Error (adding snout): boom", err.Error())

	err = &StageError{Action: "checking credentials", Err: errors.New("no key")}
	assert.Equal(t, "Error (checking credentials): no key", err.Error())
}
