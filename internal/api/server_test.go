package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/pawtrait/internal/config"
	"github.com/dunamismax/pawtrait/internal/domain"
	"github.com/dunamismax/pawtrait/internal/ratelimit"
	"github.com/dunamismax/pawtrait/internal/runner"
	"github.com/dunamismax/pawtrait/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureDispatcher struct {
	mu   sync.Mutex
	err  error
	seen []runner.Execution
}

func (d *captureDispatcher) Dispatch(_ context.Context, exec runner.Execution) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, exec)
	return d.err
}

type stubLimiter struct {
	decision ratelimit.Decision
	err      error
	costs    []int
	subjects []string
}

func (l *stubLimiter) Allow(_ context.Context, subject string, cost int) (ratelimit.Decision, error) {
	l.subjects = append(l.subjects, subject)
	l.costs = append(l.costs, cost)
	return l.decision, l.err
}

type fixture struct {
	jobs       *store.MemoryJobStore
	dispatcher *captureDispatcher
	limiter    *stubLimiter
	handler    http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		jobs:       store.NewMemoryJobStore(),
		dispatcher: &captureDispatcher{},
		limiter:    &stubLimiter{decision: ratelimit.Decision{Allowed: true, Remaining: 8}},
	}
	srv := NewServer(zerolog.Nop(), config.APIConfig{MaxUploadBytes: 1 << 20, AccountHeader: "X-Account-ID"}, Deps{
		Jobs:        f.jobs,
		Dispatcher:  f.dispatcher,
		RateLimiter: f.limiter,
	})
	f.handler = srv.Handler()
	return f
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, account, filename string, data []byte, pipeline string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	if pipeline != "" {
		require.NoError(t, mw.WriteField("pipeline", pipeline))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/transformations", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if account != "" {
		req.Header.Set("X-Account-ID", account)
	}
	return req
}

func notMultipart() *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/transformations", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Account-ID", "acct-1")
	return req
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(path, account string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if account != "" {
		req.Header.Set("X-Account-ID", account)
	}
	return f.do(req)
}

func (f *fixture) seed(t *testing.T, owner string, selection domain.Selection) []domain.Job {
	t.Helper()
	jobs := domain.NewJobs(owner, selection, time.Now().UTC())
	require.NoError(t, f.jobs.CreateJobs(context.Background(), jobs, pngBytes(t)))
	return jobs
}

type uploadResponse struct {
	BatchKey string    `json:"batch_key"`
	Jobs     []jobView `json:"jobs"`
}

func TestUploadBothCreatesAndDispatchesPair(t *testing.T) {
	f := newFixture(t)

	rec := f.do(uploadRequest(t, "acct-1", "me.png", pngBytes(t), "both"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "8", rec.Header().Get("X-RateLimit-Remaining"))

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 2)
	assert.NotEmpty(t, resp.BatchKey)
	for _, job := range resp.Jobs {
		assert.Equal(t, string(domain.StatusUploaded), job.Status)
		assert.Contains(t, job.Images, "original")
	}

	require.Len(t, f.dispatcher.seen, 2)
	assert.Equal(t, "acct-1", f.dispatcher.seen[0].OwnerID)
	assert.Equal(t, []int{2}, f.limiter.costs)
	assert.Equal(t, []string{"acct-1:uploads"}, f.limiter.subjects)
}

func TestUploadDefaultsToGPTOnly(t *testing.T) {
	f := newFixture(t)

	rec := f.do(uploadRequest(t, "acct-1", "me.jpg", pngBytes(t), ""))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, string(domain.PipelineGPTOnly), resp.Jobs[0].Pipeline)
	assert.Empty(t, resp.BatchKey)
}

func TestUploadRejections(t *testing.T) {
	f := newFixture(t)

	cases := map[string]struct {
		req  *http.Request
		want int
	}{
		"no account":    {uploadRequest(t, "", "me.png", pngBytes(t), "both"), http.StatusUnauthorized},
		"bad extension": {uploadRequest(t, "acct-1", "me.bmp", pngBytes(t), ""), http.StatusBadRequest},
		"not an image":  {uploadRequest(t, "acct-1", "me.png", []byte("hello"), ""), http.StatusBadRequest},
		"bad pipeline":  {uploadRequest(t, "acct-1", "me.png", pngBytes(t), "sdxl"), http.StatusBadRequest},
		"too large":     {uploadRequest(t, "acct-1", "me.png", bytes.Repeat([]byte{1}, 3<<20), ""), http.StatusRequestEntityTooLarge},
		"not multipart": {notMultipart(), http.StatusBadRequest},
		"empty file":    {uploadRequest(t, "acct-1", "me.png", nil, ""), http.StatusBadRequest},
	}
	for name, tc := range cases {
		rec := f.do(tc.req)
		assert.Equal(t, tc.want, rec.Code, name)
	}
	assert.Empty(t, f.dispatcher.seen)
}

func TestUploadRateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter.decision = ratelimit.Decision{Allowed: false, Remaining: 0, RetryAfter: 2400 * time.Millisecond}

	rec := f.do(uploadRequest(t, "acct-1", "me.png", pngBytes(t), "gpt_only"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Empty(t, f.dispatcher.seen)

	jobs, err := f.jobs.ListByOwner(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestUploadFailsOpenWhenLimiterErrors(t *testing.T) {
	f := newFixture(t)
	f.limiter.err = errors.New("redis down")

	rec := f.do(uploadRequest(t, "acct-1", "me.png", pngBytes(t), "gpt_only"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestUploadMarksUndispatchedJobsFailed(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = runner.ErrQueueFull

	rec := f.do(uploadRequest(t, "acct-1", "me.png", pngBytes(t), "gpt_only"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, string(domain.StatusFailed), resp.Jobs[0].Status)
	assert.Contains(t, resp.Jobs[0].Error, "queue is full")
}

func TestStatusIsOwnerOnly(t *testing.T) {
	f := newFixture(t)
	job := f.seed(t, "acct-1", domain.SelectGPTOnly)[0]
	_, err := f.jobs.Advance(context.Background(), job.ID, domain.StatusDetectingBreed, "")
	require.NoError(t, err)

	rec := f.get("/v1/transformations/"+job.ID, "acct-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var view jobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, string(domain.StatusDetectingBreed), view.Status)
	assert.Equal(t, 12.5, view.Progress)

	assert.Equal(t, http.StatusForbidden, f.get("/v1/transformations/"+job.ID, "acct-2").Code)
	assert.Equal(t, http.StatusNotFound, f.get("/v1/transformations/missing", "acct-1").Code)
}

func TestImageRetrieval(t *testing.T) {
	f := newFixture(t)
	job := f.seed(t, "acct-1", domain.SelectGPTOnly)[0]
	base := "/v1/transformations/" + job.ID + "/images/"

	rec := f.get(base+"original", "acct-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, pngBytes(t), rec.Body.Bytes())

	assert.Equal(t, http.StatusForbidden, f.get(base+"original", "acct-2").Code)
	assert.Equal(t, http.StatusForbidden, f.get(base+"thumbnail", "acct-2").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(base+"thumbnail", "acct-1").Code)
	assert.Equal(t, http.StatusNotFound, f.get(base+"final", "acct-1").Code)
	assert.Equal(t, http.StatusNotFound, f.get("/v1/transformations/missing/images/original", "acct-1").Code)
}

func TestGalleryListsOwnJobsNewestFirst(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "acct-1", domain.SelectGPTOnly)
	time.Sleep(2 * time.Millisecond)
	pair := f.seed(t, "acct-1", domain.SelectBoth)
	f.seed(t, "acct-2", domain.SelectGPTOnly)

	rec := f.get("/v1/transformations", "acct-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Entries []galleryView `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, 2, resp.Entries[0].Sequence)
	assert.Equal(t, pair[0].BatchKey, resp.Entries[0].BatchKey)
	assert.Len(t, resp.Entries[0].Jobs, 2)
	assert.Equal(t, 1, resp.Entries[1].Sequence)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusOK, f.get("/healthz", "").Code)
	f.get("/v1/transformations", "acct-1")

	rec := f.get("/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pawtrait_api_requests_total")
	assert.Contains(t, rec.Body.String(), `route="/v1/transformations`)
}
