package relay

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/junsooki/RemoteDisplay/internal/encoder"
	"github.com/junsooki/RemoteDisplay/internal/httpserver"
	"github.com/junsooki/RemoteDisplay/internal/poller"
)

const (
	defaultPingInterval = 25 * time.Second
	writeWait           = 10 * time.Second
	streamBoundary      = "frame"
)

// Source is the read side of the poller the relay republishes.
type Source interface {
	Subscribe() (<-chan poller.State, func())
	Stats() poller.Stats
}

type frameKey struct {
	generation uint64
	seq        uint64
}

// snapshot is one published state. changed is closed when it is superseded.
type snapshot struct {
	state   poller.State
	msg     *StateMessage
	changed chan struct{}
}

func (s *snapshot) key() frameKey {
	return frameKey{s.state.Generation, s.state.FrameSeq}
}

// Relay serves the viewer's live state to other clients over HTTP and
// WebSocket. It only observes the poller and keeps just the latest frame.
type Relay struct {
	src          Source
	enc          *encoder.JPEGEncoder
	log          *logrus.Entry
	engine       *gin.Engine
	upgrader     websocket.Upgrader
	pingInterval time.Duration

	mu       sync.Mutex
	cur      *snapshot
	jpegKey  frameKey
	jpeg     []byte
	clients  map[string]*client
	encodeMu sync.Mutex
}

// Option customises a Relay.
type Option func(*Relay)

func WithPingInterval(d time.Duration) Option {
	return func(r *Relay) { r.pingInterval = d }
}

// New builds a relay re-encoding frames as JPEG at quality.
func New(src Source, quality int, opts ...Option) *Relay {
	r := &Relay{
		src:          src,
		enc:          encoder.NewJPEGEncoder(quality),
		log:          logrus.WithField("component", "relay"),
		pingInterval: defaultPingInterval,
		cur:          &snapshot{msg: newStateMessage(poller.State{}, poller.Stats{}), changed: make(chan struct{})},
		clients:      make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	r.engine = httpserver.NewEngine("relay")
	r.engine.GET("/", r.handleIndex)
	r.engine.GET("/state", r.handleState)
	r.engine.GET("/frame.jpg", r.handleFrame)
	r.engine.GET("/stream", r.handleStream)
	r.engine.GET("/ws", r.handleWS)
	return r
}

func (r *Relay) Handler() http.Handler { return r.engine }

// Run follows the poller until ctx is done or the poller closes.
func (r *Relay) Run(ctx context.Context) error {
	ch, cancel := r.src.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-ch:
			if !ok {
				return nil
			}
			r.update(s)
		}
	}
}

// Clients is the number of connected WebSocket clients.
func (r *Relay) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Relay) update(s poller.State) {
	next := &snapshot{
		state:   s,
		msg:     newStateMessage(s, r.src.Stats()),
		changed: make(chan struct{}),
	}
	r.mu.Lock()
	prev := r.cur
	r.cur = next
	r.mu.Unlock()
	close(prev.changed)
}

func (r *Relay) current() *snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur
}

// frameJPEG encodes the snapshot's frame once and caches it for every client.
func (r *Relay) frameJPEG(s *snapshot) ([]byte, error) {
	r.encodeMu.Lock()
	defer r.encodeMu.Unlock()

	r.mu.Lock()
	if r.jpeg != nil && r.jpegKey == s.key() {
		b := r.jpeg
		r.mu.Unlock()
		return b, nil
	}
	r.mu.Unlock()

	b, err := r.enc.Encode(s.state.Frame)
	if err != nil {
		return nil, fmt.Errorf("relay: encode frame: %w", err)
	}
	r.mu.Lock()
	r.jpeg, r.jpegKey = b, s.key()
	r.mu.Unlock()
	r.log.WithFields(logrus.Fields{
		"generation": s.state.Generation,
		"frameSeq":   s.state.FrameSeq,
		"size":       humanize.Bytes(uint64(len(b))),
	}).Debug("frame encoded")
	return b, nil
}

func (r *Relay) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

func (r *Relay) handleState(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.JSON(http.StatusOK, r.current().msg)
}

func (r *Relay) handleFrame(c *gin.Context) {
	snap := r.current()
	if !snap.state.HasFrame() {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame yet"})
		return
	}
	b, err := r.frameJPEG(snap)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Frame-Generation", strconv.FormatUint(snap.state.Generation, 10))
	c.Header("X-Frame-Seq", strconv.FormatUint(snap.state.FrameSeq, 10))
	c.Data(http.StatusOK, r.enc.ContentType(), b)
}

// handleStream serves the live view as MJPEG, one part per new frame.
func (r *Relay) handleStream(c *gin.Context) {
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "close")
	c.Status(http.StatusOK)

	mw := multipart.NewWriter(c.Writer)
	if err := mw.SetBoundary(streamBoundary); err != nil {
		_ = c.Error(err)
		return
	}
	ctx := c.Request.Context()
	var last frameKey
	for {
		snap := r.current()
		if snap.state.HasFrame() && snap.key() != last {
			b, err := r.frameJPEG(snap)
			if err != nil {
				_ = c.Error(err)
				return
			}
			if err := writePart(mw, r.enc.ContentType(), b); err != nil {
				return
			}
			c.Writer.Flush()
			last = snap.key()
		}
		select {
		case <-ctx.Done():
			return
		case <-snap.changed:
		}
	}
}

func writePart(mw *multipart.Writer, contentType string, b []byte) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.Itoa(len(b)))
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(b)
	return err
}

func (r *Relay) handleWS(c *gin.Context) {
	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		_ = c.Error(err)
		return
	}
	cl := newClient(uuid.NewString(), conn, r.log)

	r.mu.Lock()
	r.clients[cl.id] = cl
	n := len(r.clients)
	r.mu.Unlock()
	cl.log.WithField("clients", n).Info("websocket client connected")

	defer func() {
		cl.Close()
		r.mu.Lock()
		delete(r.clients, cl.id)
		r.mu.Unlock()
		cl.log.Info("websocket client disconnected")
	}()

	go cl.readLoop()
	r.writeLoop(c.Request.Context(), cl)
}

// writeLoop pushes every state change, and each new frame as a binary
// message, until the client or the request goes away.
func (r *Relay) writeLoop(ctx context.Context, cl *client) {
	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()

	if err := cl.send(Message{Type: TypeHello, ID: cl.id}); err != nil {
		return
	}
	var (
		lastSnap  *snapshot
		lastFrame frameKey
	)
	for {
		snap := r.current()
		if snap != lastSnap {
			if err := cl.send(Message{Type: TypeState, State: snap.msg}); err != nil {
				return
			}
			if snap.state.HasFrame() && snap.key() != lastFrame {
				b, err := r.frameJPEG(snap)
				if err != nil {
					cl.log.WithError(err).Warn("frame encode failed")
				} else if err := cl.sendBinary(b); err != nil {
					return
				}
				lastFrame = snap.key()
			}
			lastSnap = snap
		}
		select {
		case <-ctx.Done():
			return
		case <-cl.done:
			return
		case <-ticker.C:
			if err := cl.send(Message{Type: TypePing, Timestamp: time.Now().UnixMilli()}); err != nil {
				return
			}
		case <-snap.changed:
		}
	}
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>Remote Display relay</title></head>
<body style="margin:0;background:#101014">
<img src="/stream" style="width:100vw;height:100vh;object-fit:contain" alt="live view">
</body>
</html>`
