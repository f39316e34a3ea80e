package display

import (
	"context"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"golang.org/x/image/font/basicfont"

	"github.com/junsooki/RemoteDisplay/internal/poller"
	"github.com/junsooki/RemoteDisplay/internal/ui"
)

const (
	lineHeight = 16
	padding    = 12
)

var (
	background = color.RGBA{0x10, 0x10, 0x14, 0xff}
	panel      = color.RGBA{0x00, 0x00, 0x00, 0xb0}
	errorPanel = color.RGBA{0x60, 0x10, 0x10, 0xd0}
	textColor  = color.RGBA{0xf0, 0xf0, 0xf0, 0xff}
	dimColor   = color.RGBA{0xa0, 0xa0, 0xa8, 0xff}
	errorText  = color.RGBA{0xff, 0x90, 0x90, 0xff}

	face = text.NewGoXFace(basicfont.Face7x13)
)

// StateSource is the read side of the poller.
type StateSource interface {
	State() poller.State
}

// Options configures the window.
type Options struct {
	Width, Height int
	Fullscreen    bool
	Title         string
}

// EbitenDisplay renders the live view and the address prompt using Ebitengine.
type EbitenDisplay struct {
	ctx   context.Context
	app   *ui.App
	src   StateSource
	idle  *ui.IdleTracker
	opts  Options
	runes []rune

	image    *ebiten.Image
	frameGen uint64
	frameSeq uint64
	cursor   ebiten.CursorModeType
}

// NewEbitenDisplay creates the display. Run returns once ctx is done or the
// window is closed.
func NewEbitenDisplay(ctx context.Context, app *ui.App, src StateSource, idle *ui.IdleTracker, opts Options) *EbitenDisplay {
	if opts.Title == "" {
		opts.Title = ui.Title
	}
	if idle == nil {
		idle = ui.NewIdleTracker(nil, ui.DefaultIdleTimeout)
	}
	return &EbitenDisplay{
		ctx:    ctx,
		app:    app,
		src:    src,
		idle:   idle,
		opts:   opts,
		cursor: ebiten.CursorModeVisible,
	}
}

// Run starts the Ebitengine game loop. Must be called from the main goroutine.
func (d *EbitenDisplay) Run() error {
	ebiten.SetWindowSize(d.opts.Width, d.opts.Height)
	ebiten.SetWindowTitle(d.opts.Title)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetFullscreen(d.opts.Fullscreen)
	return ebiten.RunGame(d)
}

// --- ebiten.Game interface ---

func (d *EbitenDisplay) Update() error {
	if d.ctx.Err() != nil {
		return ebiten.Termination
	}

	d.idle.Pointer(ebiten.CursorPosition())
	if len(inpututil.AppendJustPressedKeys(nil)) > 0 {
		d.idle.Poke()
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyF11) {
		ebiten.SetFullscreen(!ebiten.IsFullscreen())
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) && ebiten.IsFullscreen() {
		ebiten.SetFullscreen(false)
	}

	switch d.app.Mode() {
	case ui.ModePrompt:
		d.updatePrompt()
	case ui.ModeLive:
		d.updateLive()
	}
	d.updateCursor()
	return nil
}

func (d *EbitenDisplay) updatePrompt() {
	d.runes = ebiten.AppendInputChars(d.runes[:0])
	d.app.Type(d.runes)
	if repeatPressed(ebiten.KeyBackspace) {
		d.app.Backspace()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) || inpututil.IsKeyJustPressed(ebiten.KeyNumpadEnter) {
		d.app.Connect()
	}
}

func (d *EbitenDisplay) updateLive() {
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyF):
		ebiten.SetFullscreen(!ebiten.IsFullscreen())
	case inpututil.IsKeyJustPressed(ebiten.KeyC):
		d.app.ChangeAddress()
	case inpututil.IsKeyJustPressed(ebiten.KeyR):
		d.app.Reconnect()
	}
}

// updateCursor hides the pointer while live and idle.
func (d *EbitenDisplay) updateCursor() {
	want := ebiten.CursorModeVisible
	if d.app.Mode() == ui.ModeLive && !d.idle.Visible() {
		want = ebiten.CursorModeHidden
	}
	if want != d.cursor {
		ebiten.SetCursorMode(want)
		d.cursor = want
	}
}

func (d *EbitenDisplay) Draw(screen *ebiten.Image) {
	screen.Fill(background)
	if d.app.Mode() == ui.ModePrompt {
		d.drawPrompt(screen)
		return
	}
	d.drawLive(screen)
}

func (d *EbitenDisplay) drawPrompt(screen *ebiten.Image) {
	sw, sh := screen.Bounds().Dx(), screen.Bounds().Dy()
	y := float64(sh)/2 - 3*lineHeight

	drawCentered(screen, ui.Title, float64(sw)/2, y, textColor)
	y += 2 * lineHeight
	drawCentered(screen, ui.PromptHint, float64(sw)/2, y, dimColor)
	y += 2 * lineHeight

	boxW := float32(min(480, sw-2*padding))
	boxX := (float32(sw) - boxW) / 2
	vector.DrawFilledRect(screen, boxX, float32(y)-4, boxW, lineHeight+8, panel, false)
	drawText(screen, d.app.Input()+"_", float64(boxX)+8, y, textColor)

	if msg := d.app.Notice(); msg != "" {
		drawCentered(screen, msg, float64(sw)/2, y+3*lineHeight, errorText)
	}
}

func (d *EbitenDisplay) drawLive(screen *ebiten.Image) {
	s := d.src.State()
	sw, sh := screen.Bounds().Dx(), screen.Bounds().Dy()

	if s.HasFrame() {
		d.upload(s)
		fw, fh := float64(s.Frame.Bounds().Dx()), float64(s.Frame.Bounds().Dy())
		scale, offsetX, offsetY := ui.FitTransform(float64(sw), float64(sh), fw, fh)

		op := &ebiten.DrawImageOptions{}
		op.GeoM.Scale(scale, scale)
		op.GeoM.Translate(offsetX, offsetY)
		op.Filter = ebiten.FilterLinear
		screen.DrawImage(d.image, op)
	}

	if msg := ui.StatusText(s); msg != "" {
		drawCentered(screen, msg, float64(sw)/2, float64(sh)/2, textColor)
	}

	if msg := ui.ErrorText(s); msg != "" {
		w, h := text.Measure(msg, face, lineHeight)
		x := (float64(sw) - w) / 2
		y := float64(sh)/2 + 2*lineHeight
		vector.DrawFilledRect(screen, float32(x-padding), float32(y-padding), float32(w+2*padding), float32(h+2*padding), errorPanel, false)
		drawText(screen, msg, x, y, textColor)
	}

	if d.idle.Visible() {
		msg := ui.ControlsText(s)
		_, h := text.Measure(msg, face, lineHeight)
		vector.DrawFilledRect(screen, 0, float32(sh)-float32(h)-2*padding, float32(sw), float32(h)+2*padding, panel, false)
		drawText(screen, msg, padding, float64(sh)-h-padding, textColor)
	}
}

// upload copies the frame into the GPU image when a new one was published.
func (d *EbitenDisplay) upload(s poller.State) {
	w, h := s.Frame.Bounds().Dx(), s.Frame.Bounds().Dy()
	if d.image == nil || d.image.Bounds().Dx() != w || d.image.Bounds().Dy() != h {
		if d.image != nil {
			d.image.Deallocate()
		}
		d.image = ebiten.NewImage(w, h)
		d.frameSeq = 0
	}
	if s.Generation == d.frameGen && s.FrameSeq == d.frameSeq {
		return
	}
	d.image.WritePixels(s.Frame.Pix)
	d.frameGen, d.frameSeq = s.Generation, s.FrameSeq
}

func (d *EbitenDisplay) Layout(outsideWidth, outsideHeight int) (int, int) {
	return outsideWidth, outsideHeight
}

func drawText(dst *ebiten.Image, msg string, x, y float64, clr color.Color) {
	op := &text.DrawOptions{}
	op.GeoM.Translate(x, y)
	op.ColorScale.ScaleWithColor(clr)
	op.LineSpacing = lineHeight
	text.Draw(dst, msg, face, op)
}

func drawCentered(dst *ebiten.Image, msg string, cx, y float64, clr color.Color) {
	op := &text.DrawOptions{}
	op.GeoM.Translate(cx, y)
	op.ColorScale.ScaleWithColor(clr)
	op.LineSpacing = lineHeight
	op.PrimaryAlign = text.AlignCenter
	text.Draw(dst, msg, face, op)
}

// repeatPressed is true on the first press and then at a key-repeat rate.
func repeatPressed(key ebiten.Key) bool {
	const (
		delay    = 30
		interval = 3
	)
	d := inpututil.KeyPressDuration(key)
	if d == 1 {
		return true
	}
	return d >= delay && (d-delay)%interval == 0
}
