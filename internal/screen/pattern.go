package screen

import (
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Frame represents a rendered screen frame.
type Frame struct {
	Image     *image.RGBA
	Timestamp time.Time
}

// Source produces the current screen.
type Source interface {
	Capture() (*Frame, error)
}

// barPeriod is how long the moving bar takes to cross the frame.
const barPeriod = 2 * time.Second

// Pattern is a synthetic screen: a gradient with a bar sweeping across it and
// the render time printed in the corner, so staleness is visible at a glance.
type Pattern struct {
	width, height int
	clock         clockwork.Clock
	background    *image.RGBA
}

func NewPattern(width, height int, clock clockwork.Clock) *Pattern {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	p := &Pattern{width: width, height: height, clock: clock}
	p.background = gradient(width, height)
	return p
}

func (p *Pattern) Capture() (*Frame, error) {
	now := p.clock.Now()
	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	copy(img.Pix, p.background.Pix)

	phase := float64(now.UnixNano()%int64(barPeriod)) / float64(barPeriod)
	barW := max(p.width/20, 2)
	x := int(phase * float64(p.width-barW))
	draw.Draw(img, image.Rect(x, 0, x+barW, p.height), image.NewUniform(color.RGBA{0xff, 0xff, 0xff, 0xff}), image.Point{}, draw.Src)

	label := now.Format("15:04:05.000")
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{0xff, 0xff, 0x00, 0xff}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8, p.height-8),
	}
	d.DrawString(label)

	return &Frame{Image: img, Timestamp: now}, nil
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i+0] = uint8(x * 255 / max(w-1, 1))
			img.Pix[i+1] = uint8(y * 255 / max(h-1, 1))
			img.Pix[i+2] = 0x60
			img.Pix[i+3] = 0xff
		}
	}
	return img
}
