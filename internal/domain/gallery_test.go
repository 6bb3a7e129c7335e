package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildGalleryPairsBatchesAndNumbersNewestFirst(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	jobs := []Job{
		{ID: "a", Pipeline: PipelineGPTOnly, CreatedAt: base},
		{ID: "b2", Pipeline: PipelineGPTOnly, BatchKey: "k", CreatedAt: base.Add(time.Minute)},
		{ID: "b1", Pipeline: PipelineDalleGPT, BatchKey: "k", CreatedAt: base.Add(time.Minute)},
		{ID: "c", Pipeline: PipelineDalleGPT, CreatedAt: base.Add(2 * time.Minute)},
	}

	entries := BuildGallery(jobs)
	require.Len(t, entries, 3)

	assert.Equal(t, 3, entries[0].Sequence)
	assert.Equal(t, "c", entries[0].Jobs[0].ID)

	assert.Equal(t, 2, entries[1].Sequence)
	assert.Equal(t, "k", entries[1].BatchKey)
	require.Len(t, entries[1].Jobs, 2)
	assert.Equal(t, PipelineDalleGPT, entries[1].Jobs[0].Pipeline)
	assert.Equal(t, PipelineGPTOnly, entries[1].Jobs[1].Pipeline)

	assert.Equal(t, 1, entries[2].Sequence)
	assert.Equal(t, "a", entries[2].Jobs[0].ID)
}

func TestBuildGalleryBreaksTiesByID(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	entries := BuildGallery([]Job{{ID: "x", CreatedAt: at}, {ID: "y", CreatedAt: at}})

	require.Len(t, entries, 2)
	assert.Equal(t, "y", entries[0].Jobs[0].ID)
	assert.Equal(t, 2, entries[0].Sequence)
}

func TestBuildGalleryEmpty(t *testing.T) {
	assert.Empty(t, BuildGallery(nil))
}
