// Package mask renders the alpha masks sent with image-edit calls.
// Transparent pixels may be edited; opaque pixels must be preserved.
package mask

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

type Shape string

const (
	ShapeFace        Shape = "face"
	ShapeSafeRadius  Shape = "safe_radius"
	ShapeFullHead    Shape = "full_head"
	ShapeHeadAndBody Shape = "head_and_body"
)

const DefaultSafeRadius = 0.60

var (
	Opaque      = color.NRGBA{R: 0, G: 0, B: 0, A: 255}
	Transparent = color.NRGBA{R: 255, G: 255, B: 255, A: 0}
)

type Options struct {
	// SafeRadius grows the face ellipse by this fraction of its size on
	// every side to form the outer edge of the safe_radius ring.
	SafeRadius float64
}

// Box is an ellipse bounding box with inclusive corners. It may extend past
// the canvas.
type Box struct {
	X0, Y0, X1, Y1 int
}

func ParseShape(raw string) (Shape, error) {
	switch Shape(raw) {
	case ShapeFace, ShapeSafeRadius, ShapeFullHead, ShapeHeadAndBody:
		return Shape(raw), nil
	default:
		return "", fmt.Errorf("unknown mask shape: %s", raw)
	}
}

func Generate(size int, shape Shape) (*image.NRGBA, error) {
	return GenerateWith(size, shape, Options{SafeRadius: DefaultSafeRadius})
}

func GenerateWith(size int, shape Shape, opts Options) (*image.NRGBA, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mask size must be positive, got %d", size)
	}

	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	fillRect(img, Opaque)

	switch shape {
	case ShapeFace:
		fillEllipse(img, FaceBox(size), Transparent)
	case ShapeSafeRadius:
		fillEllipse(img, SafeRadiusBox(size, opts.SafeRadius), Transparent)
		fillEllipse(img, FaceBox(size), Opaque)
	case ShapeFullHead:
		fillEllipse(img, FullHeadBox(size), Transparent)
	case ShapeHeadAndBody:
		fillEllipse(img, FullHeadBox(size), Transparent)
		fillEllipse(img, BodyBox(size), Transparent)
	default:
		return nil, fmt.Errorf("unknown mask shape: %s", shape)
	}
	return img, nil
}

// Render returns the mask PNG-encoded, ready for upload.
func Render(size int, shape Shape, opts Options) ([]byte, error) {
	img, err := GenerateWith(size, shape, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode %s mask: %w", shape, err)
	}
	return buf.Bytes(), nil
}

// FaceBox covers the central half of the canvas, starting 20% down.
func FaceBox(size int) Box {
	return centered(size, size*50/100, size*20/100)
}

func SafeRadiusBox(size int, fraction float64) Box {
	face := FaceBox(size)
	grow := int(float64(face.X1-face.X0) * fraction)
	return Box{X0: face.X0 - grow, Y0: face.Y0 - grow, X1: face.X1 + grow, Y1: face.Y1 + grow}
}

// FullHeadBox is larger than the face box to take in ears and hair.
func FullHeadBox(size int) Box {
	return centered(size, size*65/100, size*5/100)
}

// BodyBox overlaps the lower fifth of the head and reaches 75% of the height.
func BodyBox(size int) Box {
	head := FullHeadBox(size)
	headSize := head.X1 - head.X0
	width := size * 75 / 100
	left := (size - width) / 2
	return Box{
		X0: left,
		Y0: head.Y1 - headSize*20/100,
		X1: left + width,
		Y1: size * 75 / 100,
	}
}

func centered(size, extent, top int) Box {
	left := (size - extent) / 2
	return Box{X0: left, Y0: top, X1: left + extent, Y1: top + extent}
}

func fillRect(img *image.NRGBA, c color.NRGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}

// fillEllipse paints every pixel whose centre falls inside the ellipse
// inscribed in box.
func fillEllipse(img *image.NRGBA, box Box, c color.NRGBA) {
	if box.X1 < box.X0 || box.Y1 < box.Y0 {
		return
	}
	cx := float64(box.X0+box.X1+1) / 2
	cy := float64(box.Y0+box.Y1+1) / 2
	rx := float64(box.X1-box.X0+1) / 2
	ry := float64(box.Y1-box.Y0+1) / 2

	bounds := img.Bounds().Intersect(image.Rect(box.X0, box.Y0, box.X1+1, box.Y1+1))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		dy := (float64(y) + 0.5 - cy) / ry
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dx := (float64(x) + 0.5 - cx) / rx
			if dx*dx+dy*dy <= 1 {
				img.SetNRGBA(x, y, c)
			}
		}
	}
}
