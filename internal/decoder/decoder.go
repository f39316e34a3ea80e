package decoder

import (
	"errors"
	"image"
)

// MaxDimension caps the width and height a payload may declare. Headers are
// checked before any pixel buffer is allocated.
const MaxDimension = 8192

var (
	// ErrEmpty is returned for a zero-length payload.
	ErrEmpty = errors.New("empty image data")

	// ErrTooLarge is returned when the declared size exceeds the decoder's cap.
	ErrTooLarge = errors.New("image dimensions too large")
)

// Decoder turns a complete screen payload into pixels anchored at the origin.
// A payload that fails to decode yields an error and never a partial image.
type Decoder interface {
	Decode(data []byte) (*image.RGBA, error)
}
