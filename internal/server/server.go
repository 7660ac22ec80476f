// Package server is the presentation boundary: a JSON API and a WebSocket
// feed over the pipeline controller, plus the bundled browser view.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/moodlens/api/schemas"
	"github.com/xkilldash9x/moodlens/internal/config"
	"github.com/xkilldash9x/moodlens/internal/pipeline"
)

//go:embed web
var webFS embed.FS

// Server exposes one Controller over HTTP.
type Server struct {
	cfg     config.ServerConfig
	ctrl    *pipeline.Controller
	camera  schemas.FrameSource
	store   schemas.ResultStore
	hub     *Hub
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New wires a server. camera and store may be nil: without a camera every
// capture must upload its frame, without a store /api/history serves only the
// in-memory history.
func New(cfg config.ServerConfig, ctrl *pipeline.Controller, camera schemas.FrameSource, store schemas.ResultStore, logger *zap.Logger) *Server {
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 10 << 20
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	logger = logger.Named("server")
	return &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		camera:  camera,
		store:   store,
		hub:     NewHub(logger, ctrl.Snapshot),
		limiter: newCaptureLimiter(cfg.CaptureRatePerMinute),
		logger:  logger,
	}
}

// newCaptureLimiter allows perMinute captures with a small burst. A
// non-positive rate disables limiting.
func newCaptureLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
}

// retryAfterSeconds is the Retry-After hint for a rate limited capture.
func retryAfterSeconds(perMinute int) int {
	if perMinute <= 0 {
		return 1
	}
	return int(math.Ceil(60 / float64(perMinute)))
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/capture", s.handleCapture)
	mux.HandleFunc("POST /api/continuous/toggle", s.handleToggle)
	mux.HandleFunc("GET /ws", s.handleWS)

	static, err := fs.Sub(webFS, "web")
	if err != nil {
		panic(fmt.Sprintf("embedded web assets missing: %v", err))
	}
	mux.Handle("GET /", http.FileServer(http.FS(static)))
	return mux
}

// Run listens on cfg.ListenAddr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		s.hub.Follow(gctx, s.ctrl.Subscribe)
		return nil
	})
	g.Go(func() error {
		s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
		}
		s.logger.Info("HTTP server stopped")
		return nil
	})
	return g.Wait()
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.cfg.ListenAddr }
