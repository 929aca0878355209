package webchat

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// Server drives the HTTP server and background workers (the audit consumer) until an
// interrupt or ctx cancellation, then shuts everything down.
type Server struct {
	httpSrv    *http.Server
	background []func(ctx context.Context) error
	drainers   []func(ctx context.Context) error
	closers    []func() error
	signals    bool
}

type ServerOption func(*Server)

// WithBackground runs fn next to the HTTP server; it must return when ctx is done.
func WithBackground(fn func(ctx context.Context) error) ServerOption {
	return func(s *Server) {
		if fn != nil {
			s.background = append(s.background, fn)
		}
	}
}

// WithDrainer registers work that must finish after the HTTP server stopped and before
// the closers run, such as websocket sessions that Shutdown does not track.
func WithDrainer(fn func(ctx context.Context) error) ServerOption {
	return func(s *Server) {
		if fn != nil {
			s.drainers = append(s.drainers, fn)
		}
	}
}

// WithCloser registers cleanup run after the HTTP server stopped, in registration order.
func WithCloser(fn func() error) ServerOption {
	return func(s *Server) {
		if fn != nil {
			s.closers = append(s.closers, fn)
		}
	}
}

// WithSignalHandling toggles SIGINT/SIGTERM handling (on by default).
func WithSignalHandling(enabled bool) ServerOption {
	return func(s *Server) { s.signals = enabled }
}

func NewServer(addr string, handler http.Handler, opts ...ServerOption) (*Server, error) {
	if handler == nil {
		return nil, errors.New("handler is nil")
	}
	s := &Server{
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		signals: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *Server) HTTPServer() *http.Server {
	if s == nil {
		return nil
	}
	return s.httpSrv
}

func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	if s == nil || s.httpSrv == nil {
		return errors.New("server is not initialized")
	}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()
	eg, egCtx := errgroup.WithContext(srvCtx)

	for _, fn := range s.background {
		fn := fn
		eg.Go(func() error { return fn(egCtx) })
	}

	eg.Go(func() error {
		var sigChan chan os.Signal
		if s.signals {
			sigChan = make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
		}
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-egCtx.Done():
		}
		srvCancel()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		for _, d := range s.drainers {
			if err := d(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("drain error during shutdown")
			}
		}
		for _, c := range s.closers {
			if err := c(); err != nil {
				log.Error().Err(err).Msg("close error during shutdown")
			}
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting sardonic server")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server listen error")
			return err
		}
		return nil
	})

	return eg.Wait()
}
