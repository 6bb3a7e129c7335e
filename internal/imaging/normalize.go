package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
)

const (
	DefaultCanonicalSize = 1024
	DefaultFallbackSize  = 512
	DefaultPNGThreshold  = 7 << 19 // 3.5 MiB

	// HardCap is the largest PNG the edit endpoint accepts.
	HardCap = 4 << 20
)

var ErrTooLarge = errors.New("normalized image exceeds upload cap")

// Normalized is a square PNG plus the side length actually used. Masks must
// be generated at Size, not at the requested target.
type Normalized struct {
	PNG  []byte
	Size int
}

// squarer renders an encoded image as a side x side opaque PNG.
type squarer interface {
	square(data []byte, side int) ([]byte, error)
}

type Normalizer struct {
	fallback  int
	threshold int
	backend   squarer
}

func NewNormalizer(fallback, threshold int) *Normalizer {
	if fallback <= 0 {
		fallback = DefaultFallbackSize
	}
	if threshold <= 0 {
		threshold = DefaultPNGThreshold
	}
	return &Normalizer{fallback: fallback, threshold: threshold, backend: newBackend()}
}

// Normalize squares data at target, demoting to the fallback size when the
// PNG would be over the threshold. A source that is already a fallback-sized
// square stays at the fallback size, so demotion sticks across stages.
func (n *Normalizer) Normalize(ctx context.Context, data []byte, target int) (Normalized, error) {
	select {
	case <-ctx.Done():
		return Normalized{}, ctx.Err()
	default:
	}

	if target <= 0 {
		target = DefaultCanonicalSize
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Normalized{}, fmt.Errorf("decode source image: %w", err)
	}
	if cfg.Width == n.fallback && cfg.Height == n.fallback && target > n.fallback {
		target = n.fallback
	}

	out, err := n.backend.square(data, target)
	if err != nil {
		return Normalized{}, err
	}
	if len(out) > n.threshold && target > n.fallback {
		target = n.fallback
		out, err = n.backend.square(data, target)
		if err != nil {
			return Normalized{}, err
		}
	}
	if len(out) > HardCap {
		return Normalized{}, fmt.Errorf("%w: %d bytes at %dx%d", ErrTooLarge, len(out), target, target)
	}

	return Normalized{PNG: out, Size: target}, nil
}
