package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// Thumbnail flattens data to opaque RGB and shrinks it so neither side
// exceeds maxDim, keeping the aspect ratio. Smaller images keep their size.
func Thumbnail(data []byte, maxDim int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	flat := flatten(src)

	w, h := flat.Bounds().Dx(), flat.Bounds().Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return encodePNG(flat)
	}

	if w >= h {
		h = max(1, h*maxDim/w)
		w = maxDim
	} else {
		w = max(1, w*maxDim/h)
		h = maxDim
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), flat, flat.Bounds(), draw.Src, nil)
	return encodePNG(dst)
}
