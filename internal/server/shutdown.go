package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	readHeaderTimeout = 10 * time.Second
	drainTimeout      = 30 * time.Second
)

// Run listens on the configured address and serves until ctx is cancelled or Shutdown
// is called, then drains in-flight requests for up to 30 seconds. It returns nil after a
// clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	// Listen first so Addr is known before Ready fires, including for port 0.
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.httpServerMu.Lock()
	s.httpServer = hs
	s.listener = listener
	s.httpServerMu.Unlock()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- hs.Serve(listener)
	}()

	s.logger.Info("server started", zap.String("addr", listener.Addr().String()))
	close(s.ready)

	select {
	case err := <-serveErr:
		// Shutdown was called directly, or Serve failed.
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutting down", zap.NamedError("cause", context.Cause(ctx)))
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()

	if err := hs.Shutdown(drainCtx); err != nil {
		s.logger.Error("shutdown failed", zap.Error(err))
		return err
	}
	<-serveErr

	s.logger.Info("server shutdown complete")
	return nil
}

// Shutdown gracefully shuts down the server.
// If the server hasn't been started, this is a no-op.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpServerMu.RLock()
	hs := s.httpServer
	s.httpServerMu.RUnlock()

	if hs == nil {
		return nil
	}
	return hs.Shutdown(ctx)
}

// Addr returns the address the server is listening on.
// Returns empty string if the server hasn't been started.
func (s *Server) Addr() string {
	s.httpServerMu.RLock()
	defer s.httpServerMu.RUnlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
