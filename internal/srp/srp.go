// Package srp implements the SRP-6a password-authenticated key exchange
// used to establish a session key from a stored verifier without the
// password or the verifier preimage ever crossing the wire.
package srp

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"math/big"
)

var (
	// ErrInvalidPublic is returned when a peer's ephemeral public value is
	// zero modulo N, which would collapse the shared secret.
	ErrInvalidPublic = errors.New("srp: invalid ephemeral public value")
	// ErrIncomplete is returned when a proof is requested before both
	// ephemerals have been exchanged.
	ErrIncomplete = errors.New("srp: exchange not complete")
)

func hashBytes(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// multiplier computes k = H(N || pad(g)).
func multiplier(group Group) *big.Int {
	k := hashBytes(group.N.Bytes(), group.Pad(group.G.Bytes()))
	return new(big.Int).SetBytes(k)
}

// scrambler computes u = H(pad(A) || pad(B)).
func scrambler(group Group, a, b *big.Int) *big.Int {
	u := hashBytes(group.Pad(a.Bytes()), group.Pad(b.Bytes()))
	return new(big.Int).SetBytes(u)
}

// privateKey computes x = H(secret), the verifier preimage. The secret is
// the key derived from the master password and the record's salted
// derivation parameters, so x is already salted per record.
func privateKey(secret []byte) *big.Int {
	return new(big.Int).SetBytes(hashBytes(secret))
}

// ComputeVerifier computes v = g^x for storage on the server.
func ComputeVerifier(group Group, secret []byte) []byte {
	x := privateKey(secret)
	v := new(big.Int).Exp(group.G, x, group.N)
	return v.Bytes()
}

// Server holds the server side of one exchange. It never sees the password
// or the verifier preimage; its state is single-use.
type Server struct {
	group Group
	v     *big.Int
	b     *big.Int
	bPub  *big.Int
	key   []byte
	aPub  *big.Int
}

// NewServer builds the server side from the stored verifier and a fresh
// ephemeral secret. The secret may be persisted between the two protocol
// messages, but must be discarded once the exchange finishes.
func NewServer(group Group, verifier, ephemeralSecret []byte) *Server {
	v := new(big.Int).SetBytes(verifier)
	b := new(big.Int).SetBytes(ephemeralSecret)

	// B = k*v + g^b
	kv := new(big.Int).Mul(multiplier(group), v)
	gb := new(big.Int).Exp(group.G, b, group.N)
	bPub := new(big.Int).Mod(new(big.Int).Add(kv, gb), group.N)

	return &Server{group: group, v: v, b: b, bPub: bPub}
}

// EphemeralPublic returns B, the value sent to the client.
func (s *Server) EphemeralPublic() []byte {
	return s.bPub.Bytes()
}

// SetClientPublic ingests A and derives the shared session key.
func (s *Server) SetClientPublic(clientPublic []byte) error {
	a := new(big.Int).SetBytes(clientPublic)
	if new(big.Int).Mod(a, s.group.N).Sign() == 0 {
		return ErrInvalidPublic
	}
	u := scrambler(s.group, a, s.bPub)
	if u.Sign() == 0 {
		return ErrInvalidPublic
	}

	// S = (A * v^u)^b
	vu := new(big.Int).Exp(s.v, u, s.group.N)
	base := new(big.Int).Mod(new(big.Int).Mul(a, vu), s.group.N)
	secret := new(big.Int).Exp(base, s.b, s.group.N)

	s.aPub = a
	s.key = hashBytes(s.group.Pad(secret.Bytes()))
	return nil
}

// SessionKey returns the derived shared key, fresh per negotiation.
func (s *Server) SessionKey() []byte {
	return s.key
}

// VerifyClientProof checks the client's M1 in constant time.
func (s *Server) VerifyClientProof(proof []byte) bool {
	if s.key == nil || s.aPub == nil {
		return false
	}
	expected := clientProof(s.group, s.aPub, s.bPub, s.key)
	return subtle.ConstantTimeCompare(expected, proof) == 1
}

// Proof returns M2, the server's proof of key possession.
func (s *Server) Proof(clientProof []byte) ([]byte, error) {
	if s.key == nil || s.aPub == nil {
		return nil, ErrIncomplete
	}
	return serverProof(s.group, s.aPub, clientProof, s.key), nil
}

// Client holds the client side of one exchange. Used by the account owner
// (and the test suite) to negotiate against a Server.
type Client struct {
	group Group
	x     *big.Int
	a     *big.Int
	aPub  *big.Int
	bPub  *big.Int
	key   []byte
}

// NewClient builds the client side from the password-derived secret and a
// fresh ephemeral secret.
func NewClient(group Group, secret, ephemeralSecret []byte) *Client {
	a := new(big.Int).SetBytes(ephemeralSecret)
	return &Client{
		group: group,
		x:     privateKey(secret),
		a:     a,
		aPub:  new(big.Int).Exp(group.G, a, group.N),
	}
}

// EphemeralPublic returns A, the value sent to the server.
func (c *Client) EphemeralPublic() []byte {
	return c.aPub.Bytes()
}

// SetServerPublic ingests B and derives the shared session key.
func (c *Client) SetServerPublic(serverPublic []byte) error {
	b := new(big.Int).SetBytes(serverPublic)
	if new(big.Int).Mod(b, c.group.N).Sign() == 0 {
		return ErrInvalidPublic
	}
	u := scrambler(c.group, c.aPub, b)
	if u.Sign() == 0 {
		return ErrInvalidPublic
	}

	// S = (B - k*g^x)^(a + u*x)
	gx := new(big.Int).Exp(c.group.G, c.x, c.group.N)
	kgx := new(big.Int).Mul(multiplier(c.group), gx)
	base := new(big.Int).Sub(b, kgx)
	base.Mod(base, c.group.N)
	if base.Sign() < 0 {
		base.Add(base, c.group.N)
	}
	exp := new(big.Int).Add(c.a, new(big.Int).Mul(u, c.x))
	secret := new(big.Int).Exp(base, exp, c.group.N)

	c.bPub = b
	c.key = hashBytes(c.group.Pad(secret.Bytes()))
	return nil
}

// SessionKey returns the derived shared key.
func (c *Client) SessionKey() []byte {
	return c.key
}

// Proof returns M1, the client's proof of key possession.
func (c *Client) Proof() ([]byte, error) {
	if c.key == nil || c.bPub == nil {
		return nil, ErrIncomplete
	}
	return clientProof(c.group, c.aPub, c.bPub, c.key), nil
}

// VerifyServerProof checks the server's M2 in constant time.
func (c *Client) VerifyServerProof(proof []byte) bool {
	if c.key == nil || c.bPub == nil {
		return false
	}
	m1 := clientProof(c.group, c.aPub, c.bPub, c.key)
	expected := serverProof(c.group, c.aPub, m1, c.key)
	return subtle.ConstantTimeCompare(expected, proof) == 1
}

// clientProof computes M1 = H(pad(A) || pad(B) || K).
func clientProof(group Group, aPub, bPub *big.Int, key []byte) []byte {
	return hashBytes(group.Pad(aPub.Bytes()), group.Pad(bPub.Bytes()), key)
}

// serverProof computes M2 = H(pad(A) || M1 || K).
func serverProof(group Group, aPub *big.Int, m1, key []byte) []byte {
	return hashBytes(group.Pad(aPub.Bytes()), m1, key)
}
