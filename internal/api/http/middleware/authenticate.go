package middleware

import (
	"net/http"
	"strings"

	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/model"
)

// Authenticate validates bearer access tokens and injects the record id
// into the request context.
type Authenticate struct {
	tokenManager   model.TokenManager
	contextManager model.ContextManager
	logger         *logger.Logger
}

func NewAuthenticate(tokenManager model.TokenManager, contextManager model.ContextManager, logger *logger.Logger) *Authenticate {
	return &Authenticate{
		tokenManager:   tokenManager,
		contextManager: contextManager,
		logger:         logger,
	}
}

// Handle rejects requests without a valid Authorization header.
func (m *Authenticate) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			http.Error(w, "missing authorization token", http.StatusUnauthorized)
			return
		}

		recordID, _, err := m.tokenManager.ParseAccessToken(token)
		if err != nil {
			m.logger.Debug("Authenticate middleware: rejected token",
				"error", err.Error())
			http.Error(w, "invalid authorization token", http.StatusUnauthorized)
			return
		}

		ctx := m.contextManager.SetRecordIDToContext(r.Context(), recordID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
