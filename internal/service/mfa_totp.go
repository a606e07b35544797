package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dtroode/keyhaven-identity/internal/model"
)

const totpSecretLength = 20

// TOTPConfig holds time-based one-time password parameters shared with the
// client's provisioning URI.
type TOTPConfig struct {
	Issuer string
	Digits int
	Period int
	Skew   int
}

// totpServer implements RFC 6238 codes over HMAC-SHA1.
type totpServer struct {
	config TOTPConfig
	crypto model.CryptoProvider
	now    func() time.Time
}

func NewTOTPServer(config TOTPConfig, cryptoProvider model.CryptoProvider) AuthServer {
	return &totpServer{
		config: config,
		crypto: cryptoProvider,
		now:    time.Now,
	}
}

func (s *totpServer) Type() model.AuthType {
	return model.AuthTypeTOTP
}

type totpData struct {
	Secret []byte `json:"secret"`
	// LastCounter is the highest time step already accepted; a code for the
	// same or an earlier step is rejected even inside the skew window.
	LastCounter int64 `json:"last_counter,omitempty"`
}

type totpProof struct {
	Code string `json:"code"`
}

func (s *totpServer) InitRegistration(_ context.Context, record *model.AuthRecord, authenticator *model.Authenticator, _ json.RawMessage) (json.RawMessage, error) {
	secret, err := s.crypto.RandomBytes(totpSecretLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}

	data, err := json.Marshal(totpData{Secret: secret})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal totp data: %w", err)
	}
	authenticator.Data = data

	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret)
	payload, err := json.Marshal(map[string]string{
		"secret": encoded,
		"url":    s.provisionURI(encoded, record.Email),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal totp challenge: %w", err)
	}
	return payload, nil
}

func (s *totpServer) CompleteRegistration(_ context.Context, _ *model.AuthRecord, authenticator *model.Authenticator, clientData json.RawMessage) error {
	ok, err := s.verifyCode(authenticator, clientData)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrVerificationFailed
	}
	return nil
}

func (s *totpServer) InitRequest(_ context.Context, _ *model.AuthRecord, _ *model.Authenticator, _ *model.AuthRequest) (json.RawMessage, error) {
	// the shared secret is the whole challenge; nothing to send
	return nil, nil
}

func (s *totpServer) VerifyRequest(_ context.Context, _ *model.AuthRecord, authenticator *model.Authenticator, _ *model.AuthRequest, proof json.RawMessage) (bool, error) {
	return s.verifyCode(authenticator, proof)
}

func (s *totpServer) verifyCode(authenticator *model.Authenticator, proof json.RawMessage) (bool, error) {
	var p totpProof
	if err := json.Unmarshal(proof, &p); err != nil {
		return false, fmt.Errorf("failed to unmarshal totp proof: %w", err)
	}

	var data totpData
	if err := json.Unmarshal(authenticator.Data, &data); err != nil {
		return false, fmt.Errorf("failed to unmarshal totp data: %w", err)
	}
	if len(data.Secret) == 0 {
		return false, fmt.Errorf("totp secret missing: %w", model.ErrInvalidState)
	}

	code := strings.TrimSpace(p.Code)
	if len(code) != s.config.Digits || !isDigits(code) {
		return false, nil
	}

	baseCounter := s.now().Unix() / int64(s.config.Period)
	for step := -s.config.Skew; step <= s.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 || counter <= data.LastCounter {
			continue
		}
		generated := hotpCode(data.Secret, counter, s.config.Digits)
		if subtle.ConstantTimeCompare([]byte(generated), []byte(code)) == 1 {
			data.LastCounter = counter
			updated, err := json.Marshal(data)
			if err != nil {
				return false, fmt.Errorf("failed to marshal totp data: %w", err)
			}
			authenticator.Data = updated
			return true, nil
		}
	}

	return false, nil
}

func (s *totpServer) provisionURI(secret, account string) string {
	label := url.PathEscape(s.config.Issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", s.config.Issuer)
	v.Set("period", strconv.Itoa(s.config.Period))
	v.Set("digits", strconv.Itoa(s.config.Digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

func hotpCode(secret []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
