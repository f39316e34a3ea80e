package fetcher

import (
	"context"
	"fmt"
	"image"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/junsooki/RemoteDisplay/internal/decoder"
)

// ScreenPath is the fixed resource every host serves its current screen at.
const ScreenPath = "/screen.png"

// Frame is a fully transferred and decoded image.
type Frame struct {
	Image   *image.RGBA
	Arrived time.Time
	Bytes   int
	URL     string // the cache-busted URL actually requested
}

// Fetcher retrieves one frame. Implementations must not return a frame unless
// the whole body arrived and decoded.
type Fetcher interface {
	Fetch(ctx context.Context, screenURL string) (*Frame, error)
}

// ScreenURL builds the screen resource URL for a user-supplied address. An
// address that already carries a scheme keeps it.
func ScreenURL(scheme, address string) string {
	address = strings.TrimRight(strings.TrimSpace(address), "/")
	if strings.Contains(address, "://") {
		return address + ScreenPath
	}
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + address + ScreenPath
}

// WithToken appends the cache-busting query parameter t to rawURL.
func WithToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("t", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// HTTPFetcher fetches frames over HTTP with go-resty.
type HTTPFetcher struct {
	client  *resty.Client
	decoder decoder.Decoder
	clock   clockwork.Clock
	seq     atomic.Uint64
}

// Option customises an HTTPFetcher.
type Option func(*HTTPFetcher)

func WithDecoder(d decoder.Decoder) Option {
	return func(f *HTTPFetcher) { f.decoder = d }
}

func WithClock(c clockwork.Clock) Option {
	return func(f *HTTPFetcher) { f.clock = c }
}

// WithHTTPClient replaces the tuned client built from Config.
func WithHTTPClient(c *http.Client) Option {
	return func(f *HTTPFetcher) { f.client = resty.NewWithClient(c) }
}

// New creates an HTTPFetcher from c (nil means defaults).
func New(c *Config, opts ...Option) *HTTPFetcher {
	c = configMergeDefault(c)
	f := &HTTPFetcher{
		client:  resty.NewWithClient(newHTTPClient(c)),
		decoder: decoder.NewImageDecoder(),
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.client.SetResponseBodyLimit(c.MaxBodySize)
	f.client.SetLogger(logrus.WithField("component", "fetcher"))
	return f
}

func newHTTPClient(c *Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = c.MaxIdleConnsPerHost
	transport.DialContext = (&net.Dialer{
		Timeout:   cast.ToDuration(c.DialTimeout),
		KeepAlive: 30 * time.Second,
	}).DialContext

	var rt http.RoundTripper = transport
	if c.Trace {
		rt = otelhttp.NewTransport(transport, otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
	}
	return &http.Client{
		Transport: rt,
		Timeout:   cast.ToDuration(c.Timeout),
	}
}

// Fetch issues one cache-busted GET for screenURL and decodes the complete body.
func (f *HTTPFetcher) Fetch(ctx context.Context, screenURL string) (*Frame, error) {
	token := strconv.FormatInt(f.clock.Now().UnixNano(), 10) + "." + strconv.FormatUint(f.seq.Add(1), 10)
	target, err := WithToken(screenURL, token)
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: screenURL, Err: err}
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Cache-Control", "no-cache").
		SetHeader("Accept", "image/*").
		Get(target)
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: screenURL, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &Error{Kind: KindTransport, URL: screenURL, Err: fmt.Errorf("unexpected status %s", resp.Status())}
	}

	body := resp.Body()
	img, err := f.decoder.Decode(body)
	if err != nil {
		return nil, &Error{Kind: KindDecode, URL: screenURL, Err: err}
	}

	frame := &Frame{
		Image:   img,
		Arrived: f.clock.Now(),
		Bytes:   len(body),
		URL:     target,
	}
	logrus.WithFields(logrus.Fields{
		"url":     screenURL,
		"size":    humanize.Bytes(uint64(len(body))),
		"latency": resp.Time(),
	}).Debug("frame fetched")
	return frame, nil
}
