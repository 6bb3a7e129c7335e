package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pawtrait/internal/domain"
	"github.com/dunamismax/pawtrait/internal/store"
)

var exportOrder = []domain.Slot{
	domain.SlotOriginal,
	domain.SlotStage1,
	domain.SlotStage2,
	domain.SlotFinal,
}

// ExportedImage is one slot written to disk.
type ExportedImage struct {
	Slot  domain.Slot
	Path  string
	Bytes int
}

// Export writes every present slot of a job under dir/<job id>/<slot>.png.
// Failed jobs export the slots they reached.
func Export(ctx context.Context, jobs store.JobStore, jobID, dir string) ([]ExportedImage, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("output directory is required")
	}

	job, ok, err := jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
	}

	jobDir := filepath.Join(dir, sanitizePathToken(job.ID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var out []ExportedImage
	for _, slot := range exportOrder {
		if !job.HasSlot(slot) {
			continue
		}
		data, err := jobs.Image(ctx, job.ID, slot)
		if err != nil {
			return out, fmt.Errorf("read %s: %w", slot, err)
		}
		path := filepath.Join(jobDir, sanitizePathToken(string(slot))+".png")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return out, fmt.Errorf("write %s: %w", slot, err)
		}
		out = append(out, ExportedImage{Slot: slot, Path: path, Bytes: len(data)})
	}
	return out, nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
