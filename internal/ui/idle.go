package ui

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultIdleTimeout hides controls and cursor after this much inactivity.
const DefaultIdleTimeout = 2 * time.Second

// IdleTracker decides whether on-screen controls and the cursor are shown.
// It is driven from the render loop and is not safe for concurrent use.
type IdleTracker struct {
	clock    clockwork.Clock
	timeout  time.Duration
	last     time.Time
	x, y     int
	hasPoint bool
}

func NewIdleTracker(clock clockwork.Clock, timeout time.Duration) *IdleTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	return &IdleTracker{clock: clock, timeout: timeout, last: clock.Now()}
}

// Pointer records the cursor position; movement counts as activity.
func (t *IdleTracker) Pointer(x, y int) {
	if t.hasPoint && x == t.x && y == t.y {
		return
	}
	t.x, t.y, t.hasPoint = x, y, true
	t.Poke()
}

// Poke records non-pointer activity such as a key press.
func (t *IdleTracker) Poke() {
	t.last = t.clock.Now()
}

// Visible reports whether the idle timeout has not yet elapsed.
func (t *IdleTracker) Visible() bool {
	return t.clock.Since(t.last) < t.timeout
}
