package relay

import (
	"time"

	"github.com/junsooki/RemoteDisplay/internal/poller"
)

// Message types on the /ws text channel. Frames travel as binary JPEG messages.
const (
	TypeHello = "hello"
	TypeState = "state"
	TypePing  = "ping"
	TypePong  = "pong"
)

// Message is the envelope for all text messages.
type Message struct {
	Type      string        `json:"type"`
	ID        string        `json:"id,omitempty"`
	State     *StateMessage `json:"state,omitempty"`
	Timestamp int64         `json:"timestamp,omitempty"`
}

// StateMessage is the JSON view of the poller's published state.
type StateMessage struct {
	Address    string  `json:"address"`
	URL        string  `json:"url"`
	Generation uint64  `json:"generation"`
	Loading    bool    `json:"loading"`
	Error      string  `json:"error,omitempty"`
	FPS        float64 `json:"fps"`
	FrameSeq   uint64  `json:"frameSeq"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	FrameAt    string  `json:"frameAt,omitempty"`
	Stats      Stats   `json:"stats"`
}

type Stats struct {
	Active      bool   `json:"active"`
	Attempts    uint64 `json:"attempts"`
	Successes   uint64 `json:"successes"`
	Failures    uint64 `json:"failures"`
	LastFailure string `json:"lastFailure,omitempty"`
}

func newStateMessage(s poller.State, st poller.Stats) *StateMessage {
	m := &StateMessage{
		Address:    s.Address,
		URL:        s.URL,
		Generation: s.Generation,
		Loading:    s.Loading,
		Error:      s.Error,
		FPS:        s.FPS,
		FrameSeq:   s.FrameSeq,
		Stats: Stats{
			Active:      st.Active,
			Attempts:    st.Attempts,
			Successes:   st.Successes,
			Failures:    st.Failures,
			LastFailure: st.LastFailure,
		},
	}
	if s.HasFrame() {
		m.Width = s.Frame.Bounds().Dx()
		m.Height = s.Frame.Bounds().Dy()
		m.FrameAt = s.FrameAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}
