package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"golang.org/x/sync/errgroup"

	"github.com/junsooki/RemoteDisplay/internal/config"
	"github.com/junsooki/RemoteDisplay/internal/display"
	"github.com/junsooki/RemoteDisplay/internal/fetcher"
	"github.com/junsooki/RemoteDisplay/internal/httpserver"
	"github.com/junsooki/RemoteDisplay/internal/logging"
	"github.com/junsooki/RemoteDisplay/internal/poller"
	"github.com/junsooki/RemoteDisplay/internal/relay"
	"github.com/junsooki/RemoteDisplay/internal/store"
	"github.com/junsooki/RemoteDisplay/internal/trace"
	"github.com/junsooki/RemoteDisplay/internal/ui"
)

const relayQuality = 80

func main() {
	cfg, err := config.LoadViewer(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	closeLog, err := logging.Setup(cfg.Log, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeLog()

	shutdownTrace, err := trace.Setup(cfg.Trace, "remotedisplay-viewer", nil)
	if err != nil {
		logrus.WithError(err).Fatal("trace setup failed")
	}
	defer shutdownTrace()

	if err := run(cfg); err != nil {
		logrus.WithError(err).Error("viewer exited with error")
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Viewer) error {
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	st, err := store.New(cfg.StorePath)
	if err != nil {
		return err
	}
	initial, err := st.Resolve(cfg.IP)
	if err != nil {
		logrus.WithError(err).Warn("last address unavailable")
		initial = cfg.IP
	}

	logrus.WithFields(logrus.Fields{
		"address": initial,
		"store":   st.Path(),
		"relay":   cfg.RelayListen,
		"scheme":  cfg.Scheme,
	}).Info("RemoteDisplay viewer starting")

	f := fetcher.New(&cfg.Fetch)
	p := poller.New(f,
		poller.WithScheme(cfg.Scheme),
		poller.WithRetryDelay(cast.ToDuration(cfg.RetryDelay)),
		poller.WithContext(ctx),
	)
	defer p.Close()

	app := ui.NewApp(p, st, initial)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.RelayListen != "" {
		r := relay.New(p, relayQuality)
		srv, err := httpserver.Listen(cfg.RelayListen, "relay", r.Handler(), cfg.Trace)
		if err != nil {
			return err
		}
		g.Go(func() error { return r.Run(gctx) })
		g.Go(func() error { return srv.Serve(gctx) })
	}
	g.Go(func() error {
		if err := st.Watch(gctx, app.Retarget); err != nil {
			logrus.WithError(err).Warn("address file not watched")
		}
		return nil
	})

	disp := display.NewEbitenDisplay(gctx, app, p, ui.NewIdleTracker(nil, ui.DefaultIdleTimeout), display.Options{
		Width:      cfg.Width,
		Height:     cfg.Height,
		Fullscreen: cfg.Fullscreen,
	})

	// Ebitengine RunGame must be on the main goroutine (macOS requirement).
	runErr := disp.Run()

	cancel()
	p.Close()
	waitErr := g.Wait()

	stats := p.Stats()
	logrus.WithFields(logrus.Fields{
		"attempts":  stats.Attempts,
		"successes": stats.Successes,
		"failures":  stats.Failures,
	}).Info("RemoteDisplay viewer stopped")

	if runErr != nil {
		return fmt.Errorf("display: %w", runErr)
	}
	return waitErr
}
