package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/junsooki/RemoteDisplay/internal/config"
	"github.com/junsooki/RemoteDisplay/internal/encoder"
	"github.com/junsooki/RemoteDisplay/internal/fetcher"
	"github.com/junsooki/RemoteDisplay/internal/httpserver"
	"github.com/junsooki/RemoteDisplay/internal/logging"
	"github.com/junsooki/RemoteDisplay/internal/screen"
	"github.com/junsooki/RemoteDisplay/internal/trace"
)

func main() {
	cfg, err := config.LoadHost(os.Args[1:])
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

	shutdownTrace, err := trace.Setup(cfg.Trace, "remotedisplay-host", nil)
	if err != nil {
		logrus.WithError(err).Fatal("trace setup failed")
	}
	defer shutdownTrace()

	if err := run(cfg); err != nil {
		logrus.WithError(err).Error("host exited with error")
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Host) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enc, err := encoder.New(cfg.Format, cfg.Quality)
	if err != nil {
		return err
	}
	h := screen.NewHandler(
		screen.NewPattern(cfg.Width, cfg.Height, nil),
		enc,
		screen.WithLatency(cast.ToDuration(cfg.Latency)),
		screen.WithFailureRate(cfg.FailureRate),
	)

	engine := httpserver.NewEngine("host")
	h.Register(engine, fetcher.ScreenPath)
	engine.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "RemoteDisplay host: GET %s\n", fetcher.ScreenPath)
	})

	srv, err := httpserver.Listen(cfg.Listen, "host", engine, cfg.Trace)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"listen":      srv.Addr(),
		"size":        fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"format":      enc.ContentType(),
		"latency":     cfg.Latency,
		"failureRate": cfg.FailureRate,
	}).Info("RemoteDisplay host starting")

	err = srv.Serve(ctx)
	logrus.WithFields(logrus.Fields{"served": h.Served(), "failed": h.Failed()}).Info("RemoteDisplay host stopped")
	return err
}
