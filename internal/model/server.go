package model

import (
	"context"
	"net"
)

// SecurityLayer opens the listener the API server accepts on, with or
// without TLS depending on deployment.
type SecurityLayer interface {
	Listen(protocol, addr string) (net.Listener, error)
}

// Server is the API server lifecycle: Start blocks until the server
// stops, Stop shuts it down gracefully.
type Server interface {
	Start(securityLayer SecurityLayer) error
	Stop(ctx context.Context) error
	Address() string
}
