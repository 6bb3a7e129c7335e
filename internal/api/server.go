package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pawtrait/internal/config"
	"github.com/dunamismax/pawtrait/internal/domain"
	"github.com/dunamismax/pawtrait/internal/runner"
	"github.com/dunamismax/pawtrait/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	_ "golang.org/x/image/webp"
)

// multipartOverhead is the slack allowed above the image ceiling for form
// boundaries and the pipeline field.
const multipartOverhead = 1 << 20

type Server struct {
	logger        zerolog.Logger
	jobs          store.JobStore
	dispatcher    runner.Dispatcher
	rateLimiter   RateLimiter
	accountHeader string
	maxUpload     int64
	metrics       *metrics
	tracer        trace.Tracer
	router        chi.Router
}

// Deps are the collaborators the HTTP surface drives. RateLimiter may be nil.
type Deps struct {
	Jobs        store.JobStore
	Dispatcher  runner.Dispatcher
	RateLimiter RateLimiter
}

func NewServer(logger zerolog.Logger, cfg config.APIConfig, deps Deps) *Server {
	header := strings.TrimSpace(cfg.AccountHeader)
	if header == "" {
		header = "X-Account-ID"
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 16 << 20
	}

	s := &Server{
		logger:        logger.With().Str("component", "api").Logger(),
		jobs:          deps.Jobs,
		dispatcher:    deps.Dispatcher,
		rateLimiter:   deps.RateLimiter,
		accountHeader: header,
		maxUpload:     maxUpload,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("pawtrait/api"),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.withTracing)
	r.Use(s.metrics.withHTTPMetrics)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.metricsHandler())

	r.Route("/v1/transformations", func(r chi.Router) {
		r.Use(s.requireAccount)
		r.Post("/", s.handleUpload)
		r.Get("/", s.handleGallery)
		r.Get("/{id}", s.handleStatus)
		r.Get("/{id}/images/{slot}", s.handleImage)
	})

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	owner := accountFrom(r.Context())

	if r.ContentLength > s.maxUpload+multipartOverhead {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("image exceeds %d bytes", s.maxUpload))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("image exceeds %d bytes", s.maxUpload))
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with an image field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	selection, err := domain.ParseSelection(r.FormValue("pipeline"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	upload := domain.UploadRequest{
		OwnerID:   owner,
		Filename:  header.Filename,
		Size:      header.Size,
		Selection: selection,
	}
	if err := upload.Validate(s.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image")
		return
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		writeError(w, http.StatusBadRequest, "file is not a readable image")
		return
	}

	kinds := selection.Kinds()
	if !s.allow(w, r, owner, len(kinds)) {
		return
	}

	created := domain.NewJobs(owner, selection, time.Now().UTC())
	if err := s.jobs.CreateJobs(r.Context(), created, data); err != nil {
		s.logger.Error().Err(err).Str("owner_id", owner).Msg("create jobs failed")
		writeError(w, http.StatusInternalServerError, "failed to create transformation")
		return
	}
	for _, kind := range kinds {
		s.metrics.uploadsTotal.WithLabelValues(string(kind)).Inc()
	}

	if err := runner.Submit(r.Context(), s.dispatcher, s.jobs, created, s.logger); err != nil {
		s.metrics.dispatchFailures.Inc()
	}

	views := make([]jobView, 0, len(created))
	for _, job := range created {
		current, ok, err := s.jobs.Get(r.Context(), job.ID)
		if err != nil || !ok {
			current = job
		}
		views = append(views, newJobView(current))
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_key": created[0].BatchKey,
		"jobs":      views,
	})
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	owner := accountFrom(r.Context())
	jobs, err := s.jobs.ListByOwner(r.Context(), owner)
	if err != nil {
		s.logger.Error().Err(err).Str("owner_id", owner).Msg("list jobs failed")
		writeError(w, http.StatusInternalServerError, "failed to load gallery")
		return
	}

	entries := domain.BuildGallery(jobs)
	out := make([]galleryView, 0, len(entries))
	for _, entry := range entries {
		view := galleryView{
			Sequence:  entry.Sequence,
			BatchKey:  entry.BatchKey,
			CreatedAt: entry.CreatedAt,
			Jobs:      make([]jobView, 0, len(entry.Jobs)),
		}
		for _, job := range entry.Jobs {
			view.Jobs = append(view.Jobs, newJobView(job))
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

// handleImage checks ownership before it looks at the slot name, so a
// non-owner learns nothing about which slots exist.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}

	slot, err := domain.ParseSlot(chi.URLParam(r, "slot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !job.HasSlot(slot) {
		writeError(w, http.StatusNotFound, "image not available")
		return
	}

	data, err := s.jobs.Image(r.Context(), job.ID, slot)
	if errors.Is(err, store.ErrImageNotFound) || errors.Is(err, store.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "image not available")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Str("slot", string(slot)).Msg("load image failed")
		writeError(w, http.StatusInternalServerError, "failed to load image")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := chi.URLParam(r, "id")
	job, ok, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("load job failed")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	if job.OwnerID != accountFrom(r.Context()) {
		writeError(w, http.StatusForbidden, "job belongs to another account")
		return domain.Job{}, false
	}
	return job, true
}

type jobView struct {
	ID        string            `json:"id"`
	Pipeline  string            `json:"pipeline"`
	Status    string            `json:"status"`
	Progress  float64           `json:"progress"`
	Breed     string            `json:"breed,omitempty"`
	Error     string            `json:"error,omitempty"`
	BatchKey  string            `json:"batch_key,omitempty"`
	Images    map[string]string `json:"images"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type galleryView struct {
	Sequence  int       `json:"sequence"`
	BatchKey  string    `json:"batch_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Jobs      []jobView `json:"jobs"`
}

var viewSlots = []domain.Slot{domain.SlotOriginal, domain.SlotStage1, domain.SlotStage2, domain.SlotFinal}

func newJobView(job domain.Job) jobView {
	images := make(map[string]string, len(viewSlots))
	for _, slot := range viewSlots {
		if job.HasSlot(slot) {
			images[string(slot)] = fmt.Sprintf("/v1/transformations/%s/images/%s", job.ID, slot)
		}
	}
	return jobView{
		ID:        job.ID,
		Pipeline:  string(job.Pipeline),
		Status:    string(job.Status),
		Progress:  job.Status.Progress(),
		Breed:     job.Breed,
		Error:     job.ErrorDetail,
		BatchKey:  job.BatchKey,
		Images:    images,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
