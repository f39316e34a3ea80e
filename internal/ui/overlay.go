package ui

import (
	"fmt"
	"strings"

	"github.com/junsooki/RemoteDisplay/internal/poller"
)

const (
	Title        = "Remote Display"
	PromptHint   = "Enter the address of the host (e.g. 192.168.1.20:8080) and press Enter"
	LoadingText  = "Loading..."
	BlankAddress = "Enter an address to connect"
	ErrorHint    = "Press C to change address or R to retry now"
	ControlsHelp = "[F] fullscreen  [C] change address  [R] reconnect  [Esc] exit fullscreen"
)

// FormatFPS renders the frame rate for the overlay. Zero means not yet known.
func FormatFPS(fps float64) string {
	if fps <= 0 {
		return "-- FPS"
	}
	return fmt.Sprintf("%.1f FPS", fps)
}

// StatusText is the centred placeholder shown while no frame is available.
func StatusText(s poller.State) string {
	if s.Loading && !s.HasFrame() {
		return LoadingText
	}
	return ""
}

// ErrorText is the error banner, empty when there is no error to show.
func ErrorText(s poller.State) string {
	if s.Error == "" {
		return ""
	}
	return s.Error + "\n" + ErrorHint
}

// ControlsText is the auto-hiding controls overlay.
func ControlsText(s poller.State) string {
	var b strings.Builder
	b.WriteString(s.Address)
	b.WriteString("  ")
	b.WriteString(FormatFPS(s.FPS))
	if s.HasFrame() {
		r := s.Frame.Bounds()
		fmt.Fprintf(&b, "  %dx%d", r.Dx(), r.Dy())
	}
	b.WriteString("\n")
	b.WriteString(ControlsHelp)
	return b.String()
}
