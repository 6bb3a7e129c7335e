//go:build govips && cgo

package imaging

import (
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
)

type govipsBackend struct{}

func (govipsBackend) square(data []byte, side int) ([]byte, error) {
	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	if img.HasAlpha() {
		if err := img.Flatten(&vips.Color{R: 255, G: 255, B: 255}); err != nil {
			return nil, fmt.Errorf("flatten alpha: %w", err)
		}
	}
	if img.Width() <= 0 || img.Height() <= 0 {
		return nil, fmt.Errorf("source image has invalid dimensions")
	}

	hScale := float64(side) / float64(img.Width())
	vScale := float64(side) / float64(img.Height())
	if err := img.ResizeWithVScale(hScale, vScale, vips.KernelLanczos3); err != nil {
		return nil, fmt.Errorf("resize image: %w", err)
	}

	params := vips.NewPngExportParams()
	params.Compression = 9
	out, _, err := img.ExportPng(params)
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return out, nil
}
