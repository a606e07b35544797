package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dtroode/keyhaven-identity/internal/model"
)

var _ model.Server = (*HTTPServer)(nil)

// HTTPServer wraps http.Server with the lifecycle the runner expects.
type HTTPServer struct {
	server *http.Server
	addr   string
}

func NewHTTPServer(handler http.Handler, addr string) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr: addr,
	}
}

// Start serves on the configured address using the provided security layer.
// It blocks until the server stops.
func (s *HTTPServer) Start(securityLayer model.SecurityLayer) error {
	listener, err := securityLayer.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Address returns the configured listen address.
func (s *HTTPServer) Address() string {
	return s.addr
}
