package id

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func New() string {
	return uuid.NewString()
}

// BatchKey correlates the two jobs of a dual-pipeline upload.
func BatchKey(ownerID string, at time.Time) string {
	suffix := uuid.New()
	return fmt.Sprintf("%s_%d_%x", ownerID, at.Unix(), suffix[:4])
}
