package domain

import (
	"sort"
	"time"
)

// GalleryEntry is one gallery row: a single job, or a batch pair shown side by side.
type GalleryEntry struct {
	Sequence  int
	BatchKey  string
	Jobs      []Job
	CreatedAt time.Time
}

// BuildGallery groups an owner's jobs for display. Entries are newest first and
// numbered N..1 so the oldest upload is always #1.
func BuildGallery(jobs []Job) []GalleryEntry {
	batches := make(map[string][]Job)
	entries := make([]GalleryEntry, 0, len(jobs))

	for _, job := range jobs {
		if job.BatchKey == "" {
			entries = append(entries, GalleryEntry{Jobs: []Job{job}, CreatedAt: job.CreatedAt})
			continue
		}
		batches[job.BatchKey] = append(batches[job.BatchKey], job)
	}

	for key, members := range batches {
		sort.SliceStable(members, func(i, j int) bool {
			return pipelineOrder(members[i].Pipeline) < pipelineOrder(members[j].Pipeline)
		})
		created := members[0].CreatedAt
		for _, m := range members[1:] {
			if m.CreatedAt.Before(created) {
				created = m.CreatedAt
			}
		}
		entries = append(entries, GalleryEntry{BatchKey: key, Jobs: members, CreatedAt: created})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].Jobs[0].ID > entries[j].Jobs[0].ID
	})

	for i := range entries {
		entries[i].Sequence = len(entries) - i
	}
	return entries
}

func pipelineOrder(kind PipelineKind) int {
	if kind == PipelineDalleGPT {
		return 0
	}
	return 1
}
