package ui

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Mode is the screen the viewer is on.
type Mode int

const (
	ModePrompt Mode = iota
	ModeLive
)

func (m Mode) String() string {
	if m == ModeLive {
		return "live"
	}
	return "prompt"
}

// Controller is the part of the poller the UI drives.
type Controller interface {
	Start(address string)
	Stop()
}

// Saver persists the last used address.
type Saver interface {
	Save(address string) error
}

// App holds the viewer's navigation state: which screen is shown, the
// address being viewed and the prompt's buffer.
type App struct {
	ctrl  Controller
	saver Saver
	log   *logrus.Entry

	mu      sync.Mutex
	mode    Mode
	address string
	form    AddressForm
	notice  string
}

// NewApp starts live on initial, or on the prompt when initial is empty.
func NewApp(ctrl Controller, saver Saver, initial string) *App {
	a := &App{
		ctrl:  ctrl,
		saver: saver,
		log:   logrus.WithField("component", "ui"),
	}
	a.form.Reset(initial)
	if _, ok := a.form.Submit(); ok {
		a.Connect()
	}
	return a
}

func (a *App) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *App) Address() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.address
}

// Input is the prompt's current text.
func (a *App) Input() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.form.Text()
}

// Notice is the message shown under the prompt. Fetch errors from the last
// target are not carried over; the prompt only reports its own input problems.
func (a *App) Notice() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.notice
}

func (a *App) Type(rs []rune) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.form.Insert(rs)
	a.notice = ""
}

func (a *App) Backspace() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.form.Backspace()
	a.notice = ""
}

// Connect submits the prompt. It reports false and stays on the prompt when
// the input is blank.
func (a *App) Connect() bool {
	a.mu.Lock()
	addr, ok := a.form.Submit()
	if !ok {
		a.notice = BlankAddress
		a.mu.Unlock()
		return false
	}
	a.switchTo(addr)
	a.mu.Unlock()
	return true
}

// ChangeAddress stops polling and returns to the prompt pre-filled with the
// current address.
func (a *App) ChangeAddress() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode != ModeLive {
		return
	}
	a.ctrl.Stop()
	a.form.Reset(a.address)
	a.notice = ""
	a.mode = ModePrompt
}

// Reconnect restarts polling of the current address with fresh state.
func (a *App) Reconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode != ModeLive || a.address == "" {
		return
	}
	a.ctrl.Start(a.address)
}

// Retarget follows an address change made elsewhere, e.g. in the state file.
// It is ignored while the user is on the prompt.
func (a *App) Retarget(addr string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode != ModeLive || addr == "" || addr == a.address {
		return
	}
	a.address = addr
	a.ctrl.Start(addr)
}

// switchTo saves addr and goes live on it. Caller holds a.mu.
func (a *App) switchTo(addr string) {
	if a.saver != nil {
		if err := a.saver.Save(addr); err != nil {
			a.log.WithError(err).WithField("address", addr).Warn("saving address failed")
		}
	}
	a.address = addr
	a.notice = ""
	a.mode = ModeLive
	a.ctrl.Start(addr)
}
