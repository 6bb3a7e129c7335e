package main

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskCommandWritesPNG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "masks", "face.png")
	var out bytes.Buffer

	err := newApp(&out).Run(context.Background(), []string{"pawctl", "mask", "--shape", "face", "--size", "64", "--out", path})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "face mask written")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestMaskCommandRejectsUnknownShape(t *testing.T) {
	var out bytes.Buffer
	err := newApp(&out).Run(context.Background(), []string{"pawctl", "mask", "--shape", "tail", "--out", filepath.Join(t.TempDir(), "m.png")})
	assert.Error(t, err)
}

func TestTransformWithoutAPIKeyFailsJobsAndExportsOriginal(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("OPENAI_API_KEY", "")

	source := filepath.Join(dir, "me.png")
	require.NoError(t, os.WriteFile(source, []byte("not really a png"), 0o644))
	outDir := filepath.Join(dir, "out")

	var out bytes.Buffer
	err := newApp(&out).Run(context.Background(), []string{"pawctl", "transform", "--image", source, "--pipeline", "both", "--out", outDir})
	require.Error(t, err)

	report := out.String()
	assert.Contains(t, report, "dalle_gpt")
	assert.Contains(t, report, "gpt_only")
	assert.Contains(t, report, "status=error")
	assert.Contains(t, report, "checking credentials")

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	for _, entry := range entries {
		_, err := os.Stat(filepath.Join(outDir, entry.Name(), "original.png"))
		assert.NoError(t, err)
		_, err = os.Stat(filepath.Join(outDir, entry.Name(), "final.png"))
		assert.True(t, os.IsNotExist(err))
	}
}

func TestTransformRejectsUnknownPipeline(t *testing.T) {
	var out bytes.Buffer
	err := newApp(&out).Run(context.Background(), []string{"pawctl", "transform", "--image", "x.png", "--pipeline", "midjourney"})
	assert.ErrorContains(t, err, "unsupported pipeline")
}
