package model

import "time"

// SRPSessionDuration bounds how long a started exchange stays answerable.
const SRPSessionDuration = 10 * time.Minute

// SRPSession is one in-flight password-authenticated exchange. The server
// ephemeral secret exists only between the two protocol messages; it is
// zeroed the moment the negotiation completes or fails.
type SRPSession struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	Expires time.Time `json:"expires"`

	// B is the server's ephemeral public value sent to the client.
	B []byte `json:"b,omitempty"`
	// EphemeralSecret is the server's private exponent for this exchange.
	EphemeralSecret []byte `json:"ephemeral_secret,omitempty"`

	Consumed bool `json:"consumed,omitempty"`
}

// Usable reports whether the session can still complete a negotiation.
func (s *SRPSession) Usable(now time.Time) bool {
	return !s.Consumed && !now.After(s.Expires) && len(s.EphemeralSecret) > 0
}

// Discard marks the session single-use done and drops its ephemeral state.
func (s *SRPSession) Discard() {
	for i := range s.EphemeralSecret {
		s.EphemeralSecret[i] = 0
	}
	s.EphemeralSecret = nil
	s.Consumed = true
}
