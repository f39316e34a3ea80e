package screen

import (
	"math/rand"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/junsooki/RemoteDisplay/internal/encoder"
)

// Handler serves the current screen as a single image per request.
type Handler struct {
	src         Source
	enc         encoder.Encoder
	latency     time.Duration
	failureRate float64
	random      func() float64
	log         *logrus.Entry

	served atomic.Uint64
	failed atomic.Uint64
}

// Option customises a Handler.
type Option func(*Handler)

// WithLatency delays every response by d.
func WithLatency(d time.Duration) Option {
	return func(h *Handler) { h.latency = d }
}

// WithFailureRate answers that fraction of requests with an error: half of
// them 503, the other half a body cut off mid-transfer.
func WithFailureRate(rate float64) Option {
	return func(h *Handler) { h.failureRate = rate }
}

func WithRandom(fn func() float64) Option {
	return func(h *Handler) { h.random = fn }
}

func NewHandler(src Source, enc encoder.Encoder, opts ...Option) *Handler {
	h := &Handler{
		src:    src,
		enc:    enc,
		random: rand.Float64,
		log:    logrus.WithField("component", "screen"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts GET and HEAD on path.
func (h *Handler) Register(r gin.IRoutes, path string) {
	r.GET(path, h.Serve)
	r.HEAD(path, h.Serve)
}

// Served and Failed count responses since start.
func (h *Handler) Served() uint64 { return h.served.Load() }
func (h *Handler) Failed() uint64 { return h.failed.Load() }

func (h *Handler) Serve(c *gin.Context) {
	if h.latency > 0 {
		select {
		case <-time.After(h.latency):
		case <-c.Request.Context().Done():
			return
		}
	}

	fail := h.failureRate > 0 && h.random() < h.failureRate
	if fail && h.random() < 0.5 {
		h.failed.Add(1)
		c.Header("Retry-After", "1")
		c.String(http.StatusServiceUnavailable, "screen temporarily unavailable")
		return
	}

	frame, err := h.src.Capture()
	if err != nil {
		h.failed.Add(1)
		_ = c.Error(err)
		c.String(http.StatusInternalServerError, "capture failed")
		return
	}
	data, err := h.enc.Encode(frame.Image)
	if err != nil {
		h.failed.Add(1)
		_ = c.Error(err)
		c.String(http.StatusInternalServerError, "encode failed")
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", h.enc.ContentType())
	c.Header("Content-Length", strconv.Itoa(len(data)))
	c.Header("Last-Modified", frame.Timestamp.UTC().Format(http.TimeFormat))
	c.Status(http.StatusOK)
	if c.Request.Method == http.MethodHead {
		return
	}

	if fail {
		// Declared length is never reached, so the client sees a truncated body.
		h.failed.Add(1)
		_, _ = c.Writer.Write(data[:len(data)/2])
		return
	}
	_, _ = c.Writer.Write(data)

	if n := h.served.Add(1); n%100 == 1 {
		h.log.WithFields(logrus.Fields{
			"served": n,
			"failed": h.failed.Load(),
			"size":   humanize.Bytes(uint64(len(data))),
		}).Info("serving screen")
	}
}
