package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultWaitStopDuration = 5 * time.Second

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// NewEngine returns a gin engine with panic recovery and logrus access logs.
func NewEngine(component string) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), LogMiddleware(component))
	return engine
}

// LogMiddleware writes one debug line per request, or a warning for 5xx.
// Long-lived streams are logged when they end.
func LogMiddleware(component string) gin.HandlerFunc {
	log := logrus.WithField("component", component)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"size":    c.Writer.Size(),
			"elapsed": time.Since(start).String(),
			"remote":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithError(c.Errors.Last())
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}

// Server runs an http.Server until its context is cancelled.
type Server struct {
	srv *http.Server
	ln  net.Listener
	log *logrus.Entry
}

// Listen binds addr. When trace is set, requests are wrapped in
// OpenTelemetry server spans named after component.
func Listen(addr, component string, handler http.Handler, trace bool) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%s: listen %s: %w", component, addr, err)
	}
	if trace {
		handler = otelhttp.NewHandler(handler, component)
	}
	return &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		ln:  ln,
		log: logrus.WithFields(logrus.Fields{"component": component, "addr": ln.Addr().String()}),
	}, nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve blocks until ctx is done, then shuts down gracefully. Streaming
// handlers should watch their request context, which is cancelled by
// BaseContext when ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	s.srv.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(s.ln) }()
	s.log.Info("listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultWaitStopDuration)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.srv.Close()
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("stopped")
	return nil
}
