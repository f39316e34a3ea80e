package encoder

import (
	"bytes"
	"image"
	"image/png"
)

// PNGEncoder encodes frames as PNG. BestSpeed keeps per-request latency low.
type PNGEncoder struct {
	enc png.Encoder
}

func NewPNGEncoder() *PNGEncoder {
	return &PNGEncoder{enc: png.Encoder{CompressionLevel: png.BestSpeed}}
}

func (e *PNGEncoder) ContentType() string { return "image/png" }

func (e *PNGEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
