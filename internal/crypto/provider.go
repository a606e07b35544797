package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/dtroode/keyhaven-identity/internal/model"
)

// AlgorithmPBKDF2 is the only derivation algorithm this provider speaks.
const AlgorithmPBKDF2 = "PBKDF2"

// SaltLength is the size of lazily generated per-record salts.
const SaltLength = 16

var _ model.CryptoProvider = (*Provider)(nil)

// Provider implements model.CryptoProvider with PBKDF2-HMAC-SHA256.
type Provider struct{}

// NewProvider creates a new crypto provider.
func NewProvider() *Provider {
	return &Provider{}
}

// RandomBytes returns n cryptographically random bytes.
func (p *Provider) RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrCrypto, err)
	}
	return buf, nil
}

// DeriveKey derives a key from the password using the record's parameters.
// It is a pure function of (password, salt, params).
func (p *Provider) DeriveKey(password []byte, params model.KeyParams) ([]byte, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: empty password", model.ErrCrypto)
	}
	if params.Algorithm != "" && params.Algorithm != AlgorithmPBKDF2 {
		return nil, fmt.Errorf("%w: unknown algorithm %q", model.ErrCrypto, params.Algorithm)
	}
	if len(params.Salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt", model.ErrCrypto)
	}
	if params.Iterations <= 0 {
		return nil, fmt.Errorf("%w: iterations must be positive", model.ErrCrypto)
	}
	keySize := params.KeySize
	if keySize <= 0 {
		keySize = 32
	}
	return pbkdf2.Key(password, params.Salt, params.Iterations, keySize, sha256.New), nil
}

// DefaultKeyParams returns derivation parameters for newly created records.
// The salt stays empty until the first derivation generates it.
func DefaultKeyParams(iterations int) model.KeyParams {
	return model.KeyParams{
		Algorithm:  AlgorithmPBKDF2,
		Iterations: iterations,
		KeySize:    32,
	}
}
