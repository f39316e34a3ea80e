package encoder

import (
	"fmt"
	"image"
)

// Encoder encodes an image into bytes.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
	ContentType() string
}

// New returns the encoder for format ("png" or "jpeg"/"jpg").
func New(format string, quality int) (Encoder, error) {
	switch format {
	case "png":
		return NewPNGEncoder(), nil
	case "jpeg", "jpg":
		return NewJPEGEncoder(quality), nil
	}
	return nil, fmt.Errorf("unsupported image format %q", format)
}
