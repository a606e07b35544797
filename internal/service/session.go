package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/model"
)

// SessionDuration bounds a finalized session; refreshing keeps the session
// id and extends last use, it does not extend expiry.
const SessionDuration = 30 * 24 * time.Hour

// TokenPair is the client-facing result of a finalized or refreshed login.
type TokenPair struct {
	SessionID    string `json:"session_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Session finalizes authenticated logins into sessions and rotates their
// refresh tokens. Only a hash of the refresh token is stored.
type Session struct {
	recordStore  model.AuthRecordStore
	tokenManager model.TokenManager
	logger       *logger.Logger
	now          func() time.Time
}

func NewSession(recordStore model.AuthRecordStore, tokenManager model.TokenManager, logger *logger.Logger) *Session {
	return &Session{
		recordStore:  recordStore,
		tokenManager: tokenManager,
		logger:       logger,
		now:          time.Now,
	}
}

// Issue appends a new session to the in-memory record and returns its token
// pair. The caller persists the record; issuing and persisting belong to one
// logical step of the login flow.
func (s *Session) Issue(record *model.AuthRecord, device model.DeviceInfo) (TokenPair, error) {
	sessionID := uuid.NewString()

	accessToken, err := s.tokenManager.GenerateAccessToken(record.ID, sessionID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := s.tokenManager.GenerateRefreshToken(record.ID, sessionID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	now := s.now()
	refreshHash := sha256.Sum256([]byte(refreshToken))
	record.Sessions = append(record.Sessions, model.SessionInfo{
		ID:          sessionID,
		Device:      device,
		Created:     now,
		Expires:     now.Add(SessionDuration),
		LastUsed:    now,
		RefreshHash: refreshHash[:],
	})

	return TokenPair{
		SessionID:    sessionID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// Refresh rotates a refresh token. The presented token must hash to the
// stored value for a live session; the old token stops working immediately.
func (s *Session) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	recordID, sessionID, err := s.tokenManager.ParseRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to parse refresh token: %w", err)
	}

	record, err := s.recordStore.Get(ctx, recordID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to get auth record: %w", err)
	}

	session := record.Session(sessionID)
	if session == nil {
		return TokenPair{}, fmt.Errorf("session %q: %w", sessionID, model.ErrNotFound)
	}

	now := s.now()
	if session.Revoked || now.After(session.Expires) {
		return TokenPair{}, fmt.Errorf("session %q is not usable: %w", sessionID, model.ErrInvalidState)
	}

	presented := sha256.Sum256([]byte(refreshToken))
	if subtle.ConstantTimeCompare(presented[:], session.RefreshHash) != 1 {
		s.logger.Info("Session service: refresh token mismatch",
			"record_id", recordID,
			"session_id", sessionID)
		return TokenPair{}, model.ErrVerificationFailed
	}

	accessToken, err := s.tokenManager.GenerateAccessToken(recordID, sessionID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	newRefresh, err := s.tokenManager.GenerateRefreshToken(recordID, sessionID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	newHash := sha256.Sum256([]byte(newRefresh))
	session.RefreshHash = newHash[:]
	session.LastUsed = now

	if _, err := s.recordStore.Save(ctx, record); err != nil {
		return TokenPair{}, fmt.Errorf("failed to save auth record: %w", err)
	}

	return TokenPair{
		SessionID:    sessionID,
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
	}, nil
}

// Revoke invalidates a session. The entry stays on the record so the id
// cannot be silently reissued against a cached access token.
func (s *Session) Revoke(ctx context.Context, recordID, sessionID string) error {
	record, err := s.recordStore.Get(ctx, recordID)
	if err != nil {
		return fmt.Errorf("failed to get auth record: %w", err)
	}

	session := record.Session(sessionID)
	if session == nil {
		return fmt.Errorf("session %q: %w", sessionID, model.ErrNotFound)
	}

	session.Revoked = true
	session.RefreshHash = nil

	if _, err := s.recordStore.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save auth record: %w", err)
	}

	s.logger.Info("Session service: session revoked",
		"record_id", recordID,
		"session_id", sessionID)
	return nil
}
