package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/junsooki/RemoteDisplay/internal/fetcher"
)

// DefaultRetryDelay spaces attempts against a failing target.
const DefaultRetryDelay = 100 * time.Millisecond

// session is the single owned record of one generation.
type session struct {
	generation  uint64
	address     string
	url         string
	inFlight    bool
	lastArrival time.Time
	errorShown  bool
	retry       clockwork.Timer
}

// Poller continuously fetches the screen image of one target. Start and Stop
// may be called from any goroutine at any time.
type Poller struct {
	fetcher    fetcher.Fetcher
	clock      clockwork.Clock
	retryDelay time.Duration
	scheme     string
	ctx        context.Context
	cancel     context.CancelFunc
	log        *logrus.Entry
	failLog    rate.Sometimes

	mu         sync.Mutex
	generation uint64
	live       *session
	state      State
	stats      Stats
	subs       map[uint64]chan State
	observers  map[uint64]func(State)
	nextID     uint64
	closed     bool
}

// Option customises a Poller.
type Option func(*Poller)

func WithClock(c clockwork.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithRetryDelay sets the pause before retrying a failed fetch. Non-positive
// values keep DefaultRetryDelay.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.retryDelay = d
		}
	}
}

// WithScheme sets the scheme used for bare addresses ("http" by default).
func WithScheme(scheme string) Option {
	return func(p *Poller) { p.scheme = scheme }
}

// WithContext bounds every request; Close cancels it.
func WithContext(ctx context.Context) Option {
	return func(p *Poller) { p.ctx = ctx }
}

// New creates an idle Poller. Call Start to begin polling.
func New(f fetcher.Fetcher, opts ...Option) *Poller {
	p := &Poller{
		fetcher:    f,
		clock:      clockwork.NewRealClock(),
		retryDelay: DefaultRetryDelay,
		scheme:     "http",
		ctx:        context.Background(),
		log:        logrus.WithField("component", "poller"),
		failLog:    rate.Sometimes{First: 1, Interval: 5 * time.Second},
		subs:       make(map[uint64]chan State),
		observers:  make(map[uint64]func(State)),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ctx, p.cancel = context.WithCancel(p.ctx)
	return p
}

// Start supersedes any running generation and begins polling address.
// Calling it again with the same address still starts a fresh generation.
func (p *Poller) Start(address string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.live != nil {
		stopRetry(p.live)
	}
	p.generation++
	s := &session{
		generation: p.generation,
		address:    address,
		url:        fetcher.ScreenURL(p.scheme, address),
	}
	p.live = s
	p.stats.Generation = s.generation
	p.stats.Active = true
	p.state = State{Address: address, URL: s.url, Generation: s.generation}
	p.publish()
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{"address": address, "generation": s.generation}).Info("polling started")
	p.run(s)
}

// Stop invalidates the live generation and cancels any pending retry. The last
// published frame and error stay as they are. Stop on an idle poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	s := p.live
	if s == nil {
		p.mu.Unlock()
		return
	}
	stopRetry(s)
	p.live = nil
	p.stats.Active = false
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{"address": s.address, "generation": s.generation}).Info("polling stopped")
}

// Close stops polling, cancels outstanding requests and closes every
// subscription channel. The Poller cannot be restarted.
func (p *Poller) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	s := p.live
	if s != nil {
		stopRetry(s)
		p.live = nil
	}
	p.stats.Active = false
	p.closed = true
	p.cancel()
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
	clear(p.observers)
	p.mu.Unlock()

	if s != nil {
		p.log.WithFields(logrus.Fields{"address": s.address, "generation": s.generation}).Info("polling stopped")
	}
}

// Active reports whether a generation is live.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live != nil
}

// State returns the latest published state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Subscribe returns a channel that always holds the most recent state. Slow
// readers miss intermediate states but never block the poller.
func (p *Poller) Subscribe() (<-chan State, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan State, 1)
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	if p.state.Seq > 0 {
		ch <- p.state
	}
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
}

// OnChange registers fn to receive every published state in order. fn runs
// with the poller locked: it must return quickly and must not call back into
// the Poller.
func (p *Poller) OnChange(fn func(State)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.observers[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.observers, id)
	}
}

// run is the loop entry point. It is a no-op while a fetch for s is in flight
// or once s is no longer the live session.
func (p *Poller) run(s *session) {
	p.mu.Lock()
	if s.inFlight || p.live != s {
		p.mu.Unlock()
		return
	}
	s.inFlight = true
	s.retry = nil
	p.stats.Attempts++
	p.state.Loading = true
	p.publish()
	p.mu.Unlock()

	go p.fetch(s)
}

func (p *Poller) fetch(s *session) {
	frame, err := p.fetcher.Fetch(p.ctx, s.url)

	p.mu.Lock()
	s.inFlight = false
	if p.live != s {
		p.mu.Unlock()
		p.log.WithField("generation", s.generation).Debug("discarding outcome of superseded generation")
		return
	}
	if err != nil {
		p.fail(s, err)
		p.mu.Unlock()
		return
	}
	p.succeed(s, frame)
	p.mu.Unlock()

	p.run(s)
}

// succeed publishes frame. The FPS is measured between arrival times stamped
// by the fetcher. Caller holds p.mu.
func (p *Poller) succeed(s *session, frame *fetcher.Frame) {
	now := frame.Arrived
	if now.IsZero() {
		now = p.clock.Now()
	}
	if !s.lastArrival.IsZero() {
		if d := now.Sub(s.lastArrival); d > 0 {
			p.state.FPS = 1 / d.Seconds()
		}
	}
	s.lastArrival = now
	s.errorShown = false

	p.stats.Successes++
	p.state.Frame = frame.Image
	p.state.FrameSeq++
	p.state.FrameAt = now
	p.state.Loading = false
	p.state.Error = ""
	p.publish()
}

// fail records err and schedules a retry. Caller holds p.mu.
func (p *Poller) fail(s *session, err error) {
	p.stats.Failures++
	kind := "unknown"
	if k, ok := fetcher.KindOf(err); ok {
		kind = k.String()
	}
	p.stats.LastFailure = kind

	p.state.Loading = false
	if !s.errorShown {
		s.errorShown = true
		p.state.Error = errorMessage(s.url, err)
	}
	p.publish()

	p.failLog.Do(func() {
		p.log.WithFields(logrus.Fields{
			"address":    s.address,
			"generation": s.generation,
			"kind":       kind,
			"failures":   p.stats.Failures,
		}).WithError(err).Warn("frame fetch failed, retrying")
	})

	if p.ctx.Err() != nil {
		return
	}
	s.retry = p.clock.AfterFunc(p.retryDelay, func() { p.run(s) })
}

func errorMessage(url string, err error) string {
	reason := err
	var fe *fetcher.Error
	if errors.As(err, &fe) && fe.Err != nil {
		reason = fe.Err
	}
	return fmt.Sprintf("Failed to load image from %s: %v. Check the address and network connection.", url, reason)
}

// publish stamps and fans out p.state. Caller holds p.mu, which orders every
// publish against Start and Stop.
func (p *Poller) publish() {
	p.state.Seq++
	p.state.UpdatedAt = p.clock.Now()
	snap := p.state
	for _, ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
	for _, fn := range p.observers {
		fn(snap)
	}
}

func stopRetry(s *session) {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}
