package poller

import (
	"image"
	"time"
)

// State is the published view of the poller. Frames are never mutated after
// publication, so the Frame pointer may be shared freely.
type State struct {
	Address    string
	URL        string
	Generation uint64

	Frame    *image.RGBA // nil until the first frame of the generation
	FrameSeq uint64      // frames published in this generation
	FrameAt  time.Time

	Loading bool
	Error   string
	FPS     float64 // 0 means not yet known

	Seq       uint64 // increments on every publish
	UpdatedAt time.Time
}

// HasFrame reports whether a frame has been published.
func (s State) HasFrame() bool { return s.Frame != nil }

// Stats summarises loop behaviour since the poller was created.
type Stats struct {
	Generation  uint64
	Active      bool
	Attempts    uint64
	Successes   uint64
	Failures    uint64
	LastFailure string // failure kind of the most recent failed attempt
}
