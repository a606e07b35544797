package model

import "context"

// CryptoProvider supplies random material and password key derivation.
// DeriveKey is deterministic given identical password and params.
type CryptoProvider interface {
	RandomBytes(n int) ([]byte, error)
	DeriveKey(password []byte, params KeyParams) ([]byte, error)
}

// Messenger delivers out-of-band messages (one-time codes). Actual
// transport and templating live outside this core.
type Messenger interface {
	Send(ctx context.Context, recipient, subject, body string) error
}
