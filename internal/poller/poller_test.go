package poller

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/junsooki/RemoteDisplay/internal/fetcher"
)

const waitTimeout = 2 * time.Second

type result struct {
	frame *fetcher.Frame
	err   error
}

// pendingFetch is one outstanding request held open until the test replies.
type pendingFetch struct {
	url   string
	reply chan result
}

func (c *pendingFetch) succeed(img *image.RGBA) {
	c.reply <- result{frame: &fetcher.Frame{Image: img, Bytes: len(img.Pix)}}
}

func (c *pendingFetch) succeedAt(img *image.RGBA, arrived time.Time) {
	c.reply <- result{frame: &fetcher.Frame{Image: img, Bytes: len(img.Pix), Arrived: arrived}}
}

func (c *pendingFetch) fail(kind fetcher.Kind, err error) {
	c.reply <- result{err: &fetcher.Error{Kind: kind, URL: c.url, Err: err}}
}

type fakeFetcher struct {
	calls chan *pendingFetch
	count atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(chan *pendingFetch, 64)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetcher.Frame, error) {
	c := &pendingFetch{url: url, reply: make(chan result, 1)}
	f.count.Add(1)
	f.calls <- c
	select {
	case r := <-c.reply:
		return r.frame, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeFetcher) next(t *testing.T) *pendingFetch {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for a fetch; calls so far=%d", f.count.Load())
		return nil
	}
}

// quiet asserts that no new fetch is issued within d.
func (f *fakeFetcher) quiet(d time.Duration) bool {
	select {
	case <-f.calls:
		return false
	case <-time.After(d):
		return true
	}
}

// stallFetcher holds every request until its context is cancelled.
type stallFetcher struct{}

func (stallFetcher) Fetch(ctx context.Context, _ string) (*fetcher.Frame, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func waitState(t *testing.T, p *Poller, cond func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if s := p.State(); cond(s) {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	s := p.State()
	t.Fatalf("state condition not met: %+v", s)
	return s
}

// recorder keeps every published state in order.
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func frameImage(w int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, w, 1))
}

func TestPollerAtMostOneInFlight(t *testing.T) {
	Convey("Re-entering the loop while a fetch is outstanding issues no second request", t, func() {
		ff := newFakeFetcher()
		p := New(ff, WithClock(clockwork.NewFakeClock()))
		defer p.Close()

		p.Start("10.0.0.5")
		first := ff.next(t)
		So(first.url, ShouldEqual, "http://10.0.0.5/screen.png")

		p.mu.Lock()
		s := p.live
		p.mu.Unlock()
		p.run(s)
		p.run(s)

		So(ff.quiet(50*time.Millisecond), ShouldBeTrue)
		So(ff.count.Load(), ShouldEqual, 1)
		So(p.Stats().Attempts, ShouldEqual, 1)
	})
}

func TestPollerScenario(t *testing.T) {
	Convey("Given a poller on 10.0.0.5 with a fake clock", t, func() {
		fc := clockwork.NewFakeClock()
		ff := newFakeFetcher()
		p := New(ff, WithClock(fc))
		defer p.Close()
		rec := &recorder{}
		p.OnChange(rec.record)

		p.Start("10.0.0.5")
		first := ff.next(t)
		So(p.State().Loading, ShouldBeTrue)
		So(p.State().Frame, ShouldBeNil)

		fc.Advance(50 * time.Millisecond)
		img1 := frameImage(1)
		first.succeed(img1)
		second := ff.next(t)

		Convey("the first frame is published with loading cleared and no FPS yet", func() {
			var loaded *State
			for _, s := range rec.snapshot() {
				if s.FrameSeq == 1 && !s.Loading {
					loaded = &s
					break
				}
			}
			So(loaded, ShouldNotBeNil)
			So(loaded.Frame, ShouldEqual, img1)
			So(loaded.Error, ShouldEqual, "")
			So(loaded.FPS, ShouldEqual, 0)

			var sawLoading bool
			for _, s := range rec.snapshot() {
				if s.Seq < loaded.Seq && s.Loading && s.Frame == nil {
					sawLoading = true
				}
			}
			So(sawLoading, ShouldBeTrue)
		})

		Convey("a second frame 80ms later yields 12.5 FPS", func() {
			fc.Advance(80 * time.Millisecond)
			second.succeed(frameImage(2))
			ff.next(t)

			s := waitState(t, p, func(s State) bool { return s.FrameSeq == 2 })
			So(s.FPS, ShouldAlmostEqual, 12.5, 0.001)
			So(s.Frame.Bounds().Dx(), ShouldEqual, 2)
		})
	})
}

func TestPollerSupersession(t *testing.T) {
	Convey("A result for a superseded generation never reaches published state", t, func() {
		ff := newFakeFetcher()
		p := New(ff, WithClock(clockwork.NewFakeClock()))
		defer p.Close()

		p.Start("a.local")
		fetchA := ff.next(t)

		p.Start("b.local")
		fetchB := ff.next(t)
		So(fetchB.url, ShouldEqual, "http://b.local/screen.png")

		before := p.State()
		So(before.Generation, ShouldEqual, 2)

		fetchA.succeed(frameImage(7))
		So(ff.quiet(50*time.Millisecond), ShouldBeTrue)
		after := p.State()
		So(after.Seq, ShouldEqual, before.Seq)
		So(after.Frame, ShouldBeNil)
		So(after.Address, ShouldEqual, "b.local")

		imgB := frameImage(3)
		fetchB.succeed(imgB)
		s := waitState(t, p, func(s State) bool { return s.FrameSeq == 1 })
		So(s.Frame, ShouldEqual, imgB)
		So(s.Generation, ShouldEqual, 2)
	})

	Convey("Starting the same address again begins a new generation", t, func() {
		ff := newFakeFetcher()
		p := New(ff, WithClock(clockwork.NewFakeClock()))
		defer p.Close()

		p.Start("a.local")
		ff.next(t)
		p.Start("a.local")
		ff.next(t)
		So(p.State().Generation, ShouldEqual, 2)
		So(p.Stats().Attempts, ShouldEqual, 2)
	})
}

func TestPollerRetryBackoff(t *testing.T) {
	Convey("Given a target that always fails", t, func() {
		fc := clockwork.NewFakeClock()
		ff := newFakeFetcher()
		p := New(ff, WithClock(fc))
		defer p.Close()

		p.Start("10.0.0.9")

		Convey("attempts repeat every 100ms until stopped", func() {
			attempts := 0
			for i := 0; i < 6; i++ {
				c := ff.next(t)
				attempts++
				c.fail(fetcher.KindTransport, errors.New("connection refused"))

				fc.BlockUntil(1)
				So(ff.quiet(10*time.Millisecond), ShouldBeTrue)
				fc.Advance(99 * time.Millisecond)
				So(ff.quiet(10*time.Millisecond), ShouldBeTrue)
				fc.Advance(time.Millisecond)
			}
			ff.next(t)
			attempts++
			So(attempts, ShouldBeGreaterThanOrEqualTo, 3)
			So(p.Stats().Failures, ShouldEqual, 6)
			So(p.State().Loading, ShouldBeTrue)

			p.Stop()
			fc.Advance(time.Second)
			So(ff.quiet(50*time.Millisecond), ShouldBeTrue)
		})

		Convey("only the first failure of a run is surfaced, and it names the target", func() {
			c := ff.next(t)
			c.fail(fetcher.KindTransport, errors.New("connection refused"))
			s := waitState(t, p, func(s State) bool { return s.Error != "" })
			So(s.Loading, ShouldBeFalse)
			So(s.Error, ShouldContainSubstring, "http://10.0.0.9/screen.png")
			So(s.Error, ShouldContainSubstring, "connection refused")
			first := s.Error

			fc.BlockUntil(1)
			fc.Advance(DefaultRetryDelay)
			c = ff.next(t)
			c.fail(fetcher.KindTransport, errors.New("i/o timeout"))
			s = waitState(t, p, func(s State) bool { return !s.Loading && s.Seq > 3 })
			So(s.Error, ShouldEqual, first)
			So(p.Stats().LastFailure, ShouldEqual, "transport")

			fc.BlockUntil(1)
			fc.Advance(DefaultRetryDelay)
			c = ff.next(t)
			c.succeed(frameImage(1))
			s = waitState(t, p, func(s State) bool { return s.FrameSeq == 1 })
			So(s.Error, ShouldEqual, "")

			c = ff.next(t)
			c.fail(fetcher.KindDecode, errors.New("png: invalid format"))
			s = waitState(t, p, func(s State) bool { return s.Error != "" })
			So(s.Error, ShouldContainSubstring, "png: invalid format")
		})
	})
}

func TestPollerRetryDelayOption(t *testing.T) {
	Convey("A non-positive retry delay keeps the default spacing", t, func() {
		for _, d := range []time.Duration{0, -time.Second} {
			fc := clockwork.NewFakeClock()
			ff := newFakeFetcher()
			p := New(ff, WithClock(fc), WithRetryDelay(d))
			So(p.retryDelay, ShouldEqual, DefaultRetryDelay)

			p.Start("10.0.0.9")
			ff.next(t).fail(fetcher.KindTransport, errors.New("connection refused"))
			fc.BlockUntil(1)
			So(ff.quiet(20*time.Millisecond), ShouldBeTrue)
			fc.Advance(DefaultRetryDelay - time.Millisecond)
			So(ff.quiet(20*time.Millisecond), ShouldBeTrue)
			fc.Advance(time.Millisecond)
			ff.next(t)
			p.Close()
		}
	})

	Convey("A positive retry delay is used as given", t, func() {
		p := New(newFakeFetcher(), WithRetryDelay(250*time.Millisecond))
		defer p.Close()
		So(p.retryDelay, ShouldEqual, 250*time.Millisecond)
	})
}

func TestPollerFPSFromArrival(t *testing.T) {
	Convey("FPS is measured between the fetcher's arrival stamps, not when the poller gets the lock", t, func() {
		fc := clockwork.NewFakeClock()
		ff := newFakeFetcher()
		p := New(ff, WithClock(fc))
		defer p.Close()

		base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		p.Start("10.0.0.5")
		ff.next(t).succeedAt(frameImage(1), base)
		ff.next(t).succeedAt(frameImage(1), base.Add(40*time.Millisecond))
		ff.next(t)

		s := waitState(t, p, func(s State) bool { return s.FrameSeq == 2 })
		So(s.FPS, ShouldAlmostEqual, 25, 0.001)
		So(s.FrameAt.Equal(base.Add(40*time.Millisecond)), ShouldBeTrue)
	})
}

func TestPollerFPSResetOnRetarget(t *testing.T) {
	Convey("FPS is undefined after retargeting until the new target delivers two frames", t, func() {
		fc := clockwork.NewFakeClock()
		ff := newFakeFetcher()
		p := New(ff, WithClock(fc))
		defer p.Close()

		p.Start("a.local")
		ff.next(t).succeed(frameImage(1))
		fc.Advance(100 * time.Millisecond)
		ff.next(t).succeed(frameImage(1))
		ff.next(t)
		s := waitState(t, p, func(s State) bool { return s.FrameSeq == 2 })
		So(s.FPS, ShouldAlmostEqual, 10, 0.001)

		p.Start("b.local")
		So(p.State().FPS, ShouldEqual, 0)
		So(p.State().Frame, ShouldBeNil)

		fc.Advance(time.Second)
		ff.next(t).succeed(frameImage(1))
		ff.next(t).reply <- result{err: &fetcher.Error{Kind: fetcher.KindTransport, Err: errors.New("reset")}}
		s = waitState(t, p, func(s State) bool { return s.Error != "" })
		So(s.FrameSeq, ShouldEqual, 1)
		So(s.FPS, ShouldEqual, 0)

		fc.BlockUntil(1)
		fc.Advance(200 * time.Millisecond)
		ff.next(t).succeed(frameImage(1))
		s = waitState(t, p, func(s State) bool { return s.FrameSeq == 2 })
		So(s.FPS, ShouldAlmostEqual, 5, 0.001)
	})
}

func TestPollerNoPartialFrame(t *testing.T) {
	Convey("A corrupt image never replaces the frame", t, func() {
		fc := clockwork.NewFakeClock()
		ff := newFakeFetcher()
		p := New(ff, WithClock(fc))
		defer p.Close()

		p.Start("10.0.0.5")
		ff.next(t).fail(fetcher.KindDecode, errors.New("unexpected EOF"))
		s := waitState(t, p, func(s State) bool { return s.Error != "" })
		So(s.Frame, ShouldBeNil)
		So(s.FrameSeq, ShouldEqual, 0)

		fc.BlockUntil(1)
		fc.Advance(DefaultRetryDelay)
		good := frameImage(4)
		ff.next(t).succeed(good)
		ff.next(t).fail(fetcher.KindDecode, errors.New("unexpected EOF"))
		s = waitState(t, p, func(s State) bool { return s.Error != "" })
		So(s.Frame, ShouldEqual, good)
		So(s.FrameSeq, ShouldEqual, 1)
	})
}

func TestPollerStop(t *testing.T) {
	Convey("Stop on an idle poller does nothing", t, func() {
		p := New(newFakeFetcher(), WithClock(clockwork.NewFakeClock()))
		defer p.Close()
		So(func() { p.Stop() }, ShouldNotPanic)
		So(p.State().Seq, ShouldEqual, 0)
		So(p.Active(), ShouldBeFalse)
	})

	Convey("After Stop an outstanding fetch publishes nothing and no retry is scheduled", t, func() {
		fc := clockwork.NewFakeClock()
		ff := newFakeFetcher()
		p := New(ff, WithClock(fc))
		defer p.Close()

		p.Start("10.0.0.5")
		c := ff.next(t)
		p.Stop()
		p.Stop()
		seq := p.State().Seq

		c.fail(fetcher.KindTransport, errors.New("refused"))
		fc.Advance(time.Second)
		So(ff.quiet(50*time.Millisecond), ShouldBeTrue)
		So(p.State().Seq, ShouldEqual, seq)
		So(p.Active(), ShouldBeFalse)
	})

	Convey("Stop leaves the last frame and error in place", t, func() {
		ff := newFakeFetcher()
		p := New(ff, WithClock(clockwork.NewFakeClock()))
		defer p.Close()

		p.Start("10.0.0.5")
		img := frameImage(2)
		ff.next(t).succeed(img)
		ff.next(t)
		waitState(t, p, func(s State) bool { return s.FrameSeq == 1 })
		p.Stop()
		So(p.State().Frame, ShouldEqual, img)
	})
}

func TestPollerSubscriptions(t *testing.T) {
	Convey("Subscribers see the latest state and are closed on Close", t, func() {
		ff := newFakeFetcher()
		p := New(ff, WithClock(clockwork.NewFakeClock()))

		ch, cancel := p.Subscribe()
		p.Start("10.0.0.5")
		ff.next(t)

		var got State
		select {
		case got = <-ch:
		case <-time.After(waitTimeout):
		}
		So(got.Address, ShouldEqual, "10.0.0.5")
		So(got.Seq, ShouldBeGreaterThan, 0)

		ch2, cancel2 := p.Subscribe()
		select {
		case s := <-ch2:
			So(s.Seq, ShouldEqual, p.State().Seq)
		case <-time.After(waitTimeout):
			So("no initial state", ShouldBeEmpty)
		}
		cancel2()
		_, open := <-ch2
		So(open, ShouldBeFalse)

		p.Close()
		for range ch {
		}
		cancel()
		So(func() { p.Start("10.0.0.6") }, ShouldNotPanic)
		So(p.Active(), ShouldBeFalse)
	})

	Convey("Close leaves nothing live even when it races Start", t, func() {
		for i := 0; i < 20; i++ {
			p := New(stallFetcher{}, WithClock(clockwork.NewFakeClock()))
			done := make(chan struct{})
			go func() {
				defer close(done)
				for j := 0; j < 50; j++ {
					p.Start("10.0.0.5")
				}
			}()
			p.Close()
			<-done
			So(p.Active(), ShouldBeFalse)
			So(p.Stats().Active, ShouldBeFalse)
		}
	})

	Convey("Close cancels the request context", t, func() {
		ff := newFakeFetcher()
		p := New(ff, WithClock(clockwork.NewFakeClock()))
		p.Start("10.0.0.5")
		ff.next(t)
		p.Close()
		So(p.ctx.Err(), ShouldEqual, context.Canceled)
	})
}
