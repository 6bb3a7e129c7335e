package worker

import (
	"errors"
	"net/http"
	"time"

	"github.com/dunamismax/pawtrait/internal/breed"
	"github.com/dunamismax/pawtrait/internal/domain"
	"github.com/dunamismax/pawtrait/internal/pipeline"
	"github.com/dunamismax/pawtrait/internal/stage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the worker's Prometheus registry. It doubles as the
// orchestrator's observer.
type Metrics struct {
	registry            *prometheus.Registry
	jobsTotal           *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec
	activeJobs          prometheus.Gauge
	stageDuration       *prometheus.HistogramVec
	stageFailures       *prometheus.CounterVec
	breedsTotal         *prometheus.CounterVec
	classifierFallbacks *prometheus.CounterVec
}

var _ pipeline.Observer = (*Metrics)(nil)

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawtrait_worker_jobs_total",
			Help: "Total transformation jobs by pipeline and outcome.",
		}, []string{"pipeline", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pawtrait_worker_job_duration_seconds",
			Help:    "Wall time of each transformation job.",
			Buckets: []float64{5, 15, 30, 60, 120, 240, 480, 900},
		}, []string{"pipeline", "outcome"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pawtrait_worker_active_jobs",
			Help: "Jobs currently holding an execution slot.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pawtrait_worker_stage_duration_seconds",
			Help:    "Duration of each edit stage.",
			Buckets: []float64{1, 5, 10, 20, 40, 60, 120, 180},
		}, []string{"pipeline", "stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawtrait_worker_stage_failures_total",
			Help: "Failed edit stages by failure kind.",
		}, []string{"pipeline", "stage", "kind"}),
		breedsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawtrait_worker_breeds_total",
			Help: "Detected breeds.",
		}, []string{"breed"}),
		classifierFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawtrait_worker_classification_fallbacks_total",
			Help: "Classifications that fell back to a default or random breed.",
		}, []string{"resolution"}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.stageDuration,
		m.stageFailures,
		m.breedsTotal,
		m.classifierFallbacks,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) BreedDetected(_ domain.PipelineKind, res breed.Result) {
	m.breedsTotal.WithLabelValues(res.Key).Inc()
	if res.Fallback() {
		m.classifierFallbacks.WithLabelValues(string(res.Resolution)).Inc()
	}
}

func (m *Metrics) StageFinished(kind domain.PipelineKind, n int, elapsed time.Duration, err error) {
	label := stageLabel(n)
	m.stageDuration.WithLabelValues(string(kind), label).Observe(elapsed.Seconds())
	if err != nil {
		m.stageFailures.WithLabelValues(string(kind), label, stage.KindOf(err).String()).Inc()
	}
}

func (m *Metrics) observeJob(kind domain.PipelineKind, outcome string, elapsed time.Duration) {
	m.jobDuration.WithLabelValues(string(kind), outcome).Observe(elapsed.Seconds())
	m.jobsTotal.WithLabelValues(string(kind), outcome).Inc()
}

func stageLabel(n int) string {
	switch n {
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return "3"
	default:
		return "other"
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, pipeline.ErrAlreadyStarted):
		return "skipped"
	default:
		return "failed"
	}
}
