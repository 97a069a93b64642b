// Package server runs the groupcart HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/txn2/groupcart/pkg/platform"
)

// Version is set at build time.
var Version = "dev"

// Server serves a platform over HTTP.
type Server struct {
	platform *platform.Platform
	config   *platform.Config
	logger   *slog.Logger
}

// NewWithConfig loads the configuration at path (empty for environment
// only), installs the configured logger as the default and builds the
// platform.
func NewWithConfig(ctx context.Context, path string, logOut io.Writer) (*Server, error) {
	cfg, err := platform.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	logger, err := platform.NewLogger(cfg.Log, logOut)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return New(ctx, cfg, logger)
}

// New builds a server from cfg.
func New(ctx context.Context, cfg *platform.Config, logger *slog.Logger, opts ...platform.Option) (*Server, error) {
	if cfg.Server.Version == "" {
		cfg.Server.Version = Version
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]platform.Option{platform.WithConfig(cfg), platform.WithLogger(logger)}, opts...)
	p, err := platform.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating platform: %w", err)
	}
	return &Server{platform: p, config: cfg, logger: logger}, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.platform.Handler() }

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.Address)
	if err != nil {
		_ = s.platform.Close()
		return fmt.Errorf("listening on %s: %w", s.config.Server.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve starts the platform, serves on ln until ctx is done, then drains
// in-flight requests and stops the platform.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.platform.Start(ctx); err != nil {
		_ = ln.Close()
		_ = s.platform.Close()
		return fmt.Errorf("starting platform: %w", err)
	}

	srv := &http.Server{
		Handler:      s.platform.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "address", ln.Addr().String(), "version", s.config.Server.Version)
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	s.platform.Health().SetDraining()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down")
	shutdownErr := srv.Shutdown(shutdownCtx)
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}
	stopErr := s.platform.Stop(shutdownCtx)
	return errors.Join(serveErr, shutdownErr, stopErr)
}
