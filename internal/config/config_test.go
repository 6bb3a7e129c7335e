package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.Pipeline.CanonicalSize)
	assert.Equal(t, 512, cfg.Pipeline.FallbackSize)
	assert.Equal(t, 3_670_016, cfg.Pipeline.PNGThreshold)
	assert.InDelta(t, 0.60, cfg.Pipeline.SafeRadius, 1e-9)
	assert.Equal(t, int64(16<<20), cfg.API.MaxUploadBytes)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.VisionPrimary)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.VisionSecondary)
	assert.Equal(t, "dall-e-2", cfg.OpenAI.LegacyEditModel)
	assert.Equal(t, "gpt-image-1", cfg.OpenAI.EditModel)
	assert.Equal(t, "asynq", cfg.API.Runner)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PIPELINE_SAFE_RADIUS", "0.75")
	t.Setenv("WORKER_SHUTDOWN_TIMEOUT", "90s")
	t.Setenv("PAWTRAIT_RUNNER", "local")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 0.75, cfg.Pipeline.SafeRadius, 1e-9)
	assert.Equal(t, 90*time.Second, cfg.Worker.ShutdownTimeout)
	assert.Equal(t, "local", cfg.API.Runner)
	assert.Equal(t, 0, cfg.Queue.RedisDB)
}

func TestLoadRejectsInvertedSizes(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PIPELINE_FALLBACK_SIZE", "2048")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownRunner(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PAWTRAIT_RUNNER", "threads")

	_, err := Load()
	require.Error(t, err)
}
