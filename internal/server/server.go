package server

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"
)

// Server wraps the registry auth HTTP listener
type Server struct {
	srv     *http.Server
	tlsCert string
	tlsKey  string
}

// New creates a server. TLS is enabled when both cert and key paths are set.
func New(handler http.Handler, port, tlsCert, tlsKey string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         ":" + port,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
	}
}

// Start begins serving in a background goroutine. The returned channel
// yields the listener's terminal error; http.ErrServerClosed after a clean
// Shutdown.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)

	if s.tlsCert != "" && s.tlsKey != "" {
		s.srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		go func() {
			errc <- s.srv.ListenAndServeTLS(s.tlsCert, s.tlsKey)
		}()
		return errc
	}

	go func() {
		errc <- s.srv.ListenAndServe()
	}()
	return errc
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
