package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
)

// HTTPServer runs an http.Server as a lifecycle component.
type HTTPServer struct {
	cfg    ServerConfig
	server *http.Server
	addr   net.Addr
	errCh  chan error
}

// NewHTTPServer creates a server for handler.
func NewHTTPServer(cfg ServerConfig, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		cfg: cfg,
		server: &http.Server{
			Addr:              cfg.Address,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		errCh: make(chan error, 1),
	}
}

// Start binds the listener synchronously, so address errors surface here,
// then serves in the background.
func (s *HTTPServer) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Address, err)
	}
	s.addr = ln.Addr()
	slog.Info("server: listening", "address", s.addr.String(), "tls", s.cfg.TLS.Enabled)

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.Serve(ln)
		}
		if !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
		close(s.errCh)
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// Addr returns the bound address once started.
func (s *HTTPServer) Addr() net.Addr { return s.addr }

// Err delivers a serve failure, and is closed when the server exits.
func (s *HTTPServer) Err() <-chan error { return s.errCh }
