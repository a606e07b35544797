package model

// TokenManager generates and validates access/refresh tokens. Tokens are
// scoped to a record id and a session id (the refresh token's JTI).
type TokenManager interface {
	GenerateAccessToken(recordID, sessionID string) (string, error)
	GenerateRefreshToken(recordID, sessionID string) (token string, err error)
	ParseAccessToken(token string) (recordID string, sessionID string, err error)
	ParseRefreshToken(token string) (recordID string, sessionID string, err error)
}
