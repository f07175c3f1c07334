// Package server is the HTTP front end: it accepts connections, serves
// the bridge handler and exposes Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cryguy/turbox/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/net/netutil"
)

// Config configures the front end.
type Config struct {
	Host           string
	Port           int
	MaxConnections int
	// Backlog is recorded for parity with the script API; the Go listener
	// uses the kernel default.
	Backlog     int
	KeepAlive   bool
	Compression bool
	// H2C enables HTTP/2 over cleartext alongside HTTP/1.1.
	H2C         bool
	MetricsPath string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Server serves one application handler.
type Server struct {
	cfg      Config
	app      http.Handler
	gatherer prometheus.Gatherer
	log      *zap.Logger
}

// New returns a server for app. A nil gatherer disables the metrics
// endpoint.
func New(cfg Config, app http.Handler, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if log == nil {
		log = core.Logger()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	return &Server{cfg: cfg, app: app, gatherer: gatherer, log: log.Named("server")}
}

// Handler returns the full handler tree: metrics and health endpoints,
// then the application behind optional compression and h2c.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.gatherer != nil && s.cfg.MetricsPath != "" {
		mux.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	app := s.app
	if s.cfg.Compression {
		app = Compress(app)
	}
	mux.Handle("/", app)

	var h http.Handler = mux
	if s.cfg.H2C {
		h = h2c.NewHandler(h, &http2.Server{IdleTimeout: s.cfg.IdleTimeout})
	}
	return h
}

// Listen opens the listening socket, capped at MaxConnections concurrent
// connections when that is positive.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	return ln, nil
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		ErrorLog:          zap.NewStdLog(s.log),
	}
	srv.SetKeepAlivesEnabled(s.cfg.KeepAlive)

	s.log.Info("listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("max_connections", s.cfg.MaxConnections),
		zap.Int("backlog", s.cfg.Backlog),
		zap.Bool("keep_alive", s.cfg.KeepAlive),
		zap.Bool("h2c", s.cfg.H2C))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.log.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// Run listens and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
