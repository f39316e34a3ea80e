package decoder

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ImageDecoder decodes any registered raster format (PNG, JPEG, GIF, BMP, WebP)
// into *image.RGBA anchored at the origin.
type ImageDecoder struct {
	maxDimension int
}

// NewImageDecoder returns a decoder capped at MaxDimension on each side.
func NewImageDecoder() *ImageDecoder {
	return &ImageDecoder{maxDimension: MaxDimension}
}

// NewImageDecoderWithLimit returns a decoder capped at limit on each side.
// Non-positive values fall back to MaxDimension.
func NewImageDecoderWithLimit(limit int) *ImageDecoder {
	if limit <= 0 {
		limit = MaxDimension
	}
	return &ImageDecoder{maxDimension: limit}
}

func (d *ImageDecoder) Decode(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	limit := d.maxDimension
	if limit <= 0 {
		limit = MaxDimension
	}
	if cfg.Width > limit || cfg.Height > limit {
		return nil, fmt.Errorf("%w: %s %dx%d exceeds %dx%d", ErrTooLarge, format, cfg.Width, cfg.Height, limit, limit)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%s image has no pixels", format)
	}
	// Reuse the decoded buffer only when it is already packed at the origin.
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && rgba.Stride == 4*b.Dx() {
		return rgba, nil
	}
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba, nil
}

// Format reports the registered format name of data without decoding pixels.
func Format(data []byte) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	return format, err
}
