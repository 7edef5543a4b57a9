package httphandler

import (
	"errors"
	"net/http"
	"time"
)

type Server struct {
	*http.Server
}

// NewServer returns a server for handler with the read and idle timeouts set.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{Server: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}}
}

// TryListenAndServe starts the server, if there isn't an error after d it returns nil
func (s *Server) TryListenAndServe(d time.Duration) error {
	return try(s.Server.ListenAndServe, d)
}

func (s *Server) TryListenAndServeTLS(certFile, keyFile string, d time.Duration) error {
	return try(func() error { return s.Server.ListenAndServeTLS(certFile, keyFile) }, d)
}

func try(serve func() error, d time.Duration) error {
	errC := make(chan error, 1)
	go func() {
		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return err
	case <-time.After(d):
		return nil
	}
}
