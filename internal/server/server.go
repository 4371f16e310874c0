// Package server owns the HTTP listener lifecycle and the chi router that
// mounts the API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/l0p7/planetcast/internal/config"
)

// ShutdownTimeout bounds how long in-flight requests may drain.
const ShutdownTimeout = 5 * time.Second

// Closer releases a resource after the listener has drained.
type Closer func(ctx context.Context) error

// Server owns the HTTP lifecycle and orchestrates graceful shutdown.
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	closers    []Closer
	once       sync.Once
}

// New binds handler to the configured listen address. Closers run in order
// once the listener has shut down.
func New(listen config.ListenConfig, logger *slog.Logger, handler http.Handler, closers ...Closer) (*Server, error) {
	if handler == nil {
		return nil, errors.New("server: handler required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	addr := net.JoinHostPort(listen.Address, strconv.Itoa(listen.Port))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		logger:     logger.With(slog.String("agent", "lifecycle")),
		httpServer: httpSrv,
		closers:    closers,
	}, nil
}

// Run serves until ctx is cancelled or the listener fails, then drains for
// up to ShutdownTimeout and releases the closers.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("http listener starting", slog.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := s.shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		closeCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return errors.Join(err, s.release(closeCtx))
	}
}

// shutdown runs once even when cancellation cascades.
func (s *Server) shutdown(ctx context.Context) error {
	var shutdownErr error
	s.once.Do(func() {
		s.logger.Info("http listener shutting down")
		shutdownErr = errors.Join(s.httpServer.Shutdown(ctx), s.closeAll(ctx))
	})
	return shutdownErr
}

func (s *Server) release(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		err = s.closeAll(ctx)
	})
	return err
}

func (s *Server) closeAll(ctx context.Context) error {
	var errs []error
	for _, closer := range s.closers {
		if closer == nil {
			continue
		}
		if err := closer(ctx); err != nil {
			s.logger.Error("resource close failed", slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
