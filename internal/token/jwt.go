package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dtroode/keyhaven-identity/internal/model"
)

// Claims represents JWT claims with token type, record and session ids.
type Claims struct {
	jwt.RegisteredClaims
	RecordID  string `json:"record_id"`
	SessionID string `json:"session_id"`
	TokenType string `json:"typ"`
}

// JWT implements TokenManager backed by symmetric HMAC.
type JWT struct {
	secretKey string
}

// NewJWT creates a new JWT token manager with the provided secret key.
func NewJWT(secretKey string) model.TokenManager {
	return &JWT{secretKey: secretKey}
}

const (
	// AccessTTL bounds access token validity.
	AccessTTL = 15 * time.Minute
	// RefreshTTL bounds refresh token validity and session lifetime.
	RefreshTTL = 30 * 24 * time.Hour

	typeAccess  = "access"
	typeRefresh = "refresh"
)

// GenerateAccessToken creates a short-lived access token.
func (j *JWT) GenerateAccessToken(recordID, sessionID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTTL)),
		},
		RecordID:  recordID,
		SessionID: sessionID,
		TokenType: typeAccess,
	})

	tokenString, err := token.SignedString([]byte(j.secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, nil
}

// GenerateRefreshToken creates a long-lived refresh token bound to a session.
func (j *JWT) GenerateRefreshToken(recordID, sessionID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(RefreshTTL)),
		},
		RecordID:  recordID,
		SessionID: sessionID,
		TokenType: typeRefresh,
	})

	tokenString, err := token.SignedString([]byte(j.secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return tokenString, nil
}

// ParseAccessToken validates and extracts the record and session ids from
// an access token.
func (j *JWT) ParseAccessToken(tokenString string) (string, string, error) {
	return j.parse(tokenString, typeAccess)
}

// ParseRefreshToken validates and extracts the record and session ids from
// a refresh token.
func (j *JWT) ParseRefreshToken(tokenString string) (string, string, error) {
	return j.parse(tokenString, typeRefresh)
}

func (j *JWT) parse(tokenString, tokenType string) (string, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("wrong signing method %v", t.Header["alg"])
		}
		return []byte(j.secretKey), nil
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to parse %s token: %w", tokenType, err)
	}
	if !token.Valid {
		return "", "", fmt.Errorf("%s token is invalid", tokenType)
	}
	if claims.TokenType != tokenType {
		return "", "", fmt.Errorf("token type mismatch: %s", claims.TokenType)
	}
	return claims.RecordID, claims.SessionID, nil
}
