package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dunamismax/pawtrait/internal/config"
	"github.com/dunamismax/pawtrait/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServerRoutes(t *testing.T) {
	srv := newMetricsServer(config.WorkerConfig{MetricsAddr: ":9191"}, worker.NewMetrics().Handler())
	require.Equal(t, ":9191", srv.Addr)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pawtrait_worker_active_jobs")

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
