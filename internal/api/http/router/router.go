// Package router assembles the HTTP surface: public authentication
// endpoints, bearer-protected account endpoints, and the SCIM mount.
package router

import (
	"net/http"

	"github.com/dtroode/keyhaven-identity/internal/api/http/handler"
	"github.com/dtroode/keyhaven-identity/internal/api/http/middleware"
	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/model"
)

// Router wires handlers and middleware into one http.Handler.
type Router struct {
	srpService      handler.SRPService
	sessionService  handler.SessionService
	mfaService      handler.MFAService
	keyStoreService handler.KeyStoreService
	accountService  handler.AccountService
	scimHandler     http.Handler
	tokenManager    model.TokenManager
	contextManager  model.ContextManager
	logger          *logger.Logger
}

func New(
	srpService handler.SRPService,
	sessionService handler.SessionService,
	mfaService handler.MFAService,
	keyStoreService handler.KeyStoreService,
	accountService handler.AccountService,
	scimHandler http.Handler,
	tokenManager model.TokenManager,
	contextManager model.ContextManager,
	logger *logger.Logger,
) *Router {
	return &Router{
		srpService:      srpService,
		sessionService:  sessionService,
		mfaService:      mfaService,
		keyStoreService: keyStoreService,
		accountService:  accountService,
		scimHandler:     scimHandler,
		tokenManager:    tokenManager,
		contextManager:  contextManager,
		logger:          logger,
	}
}

// Register builds the full route table.
func (r *Router) Register() http.Handler {
	logging := middleware.NewLogging(r.logger)
	authenticate := middleware.NewAuthenticate(r.tokenManager, r.contextManager, r.logger)

	authHandler := handler.NewAuth(r.srpService, r.sessionService, r.contextManager, r.logger)
	mfaHandler := handler.NewMFA(r.mfaService, r.accountService, r.contextManager, r.logger)
	keyStoreHandler := handler.NewKeyStore(r.keyStoreService, r.accountService, r.contextManager, r.logger)
	recordHandler := handler.NewRecord(r.accountService, r.contextManager, r.logger)

	mux := http.NewServeMux()

	// public: the exchange itself is the proof of identity
	mux.HandleFunc("POST /api/v1/auth/register/start", authHandler.RegisterStart)
	mux.HandleFunc("POST /api/v1/auth/register/complete", authHandler.RegisterComplete)
	mux.HandleFunc("POST /api/v1/auth/login/start", authHandler.LoginStart)
	mux.HandleFunc("POST /api/v1/auth/login/complete", authHandler.LoginComplete)
	mux.HandleFunc("POST /api/v1/auth/refresh", authHandler.Refresh)

	// public: factor handshakes must work before any session exists
	mux.HandleFunc("POST /api/v1/mfa/authenticators", mfaHandler.RegisterAuthenticator)
	mux.HandleFunc("POST /api/v1/mfa/authenticators/{id}/complete", mfaHandler.CompleteAuthenticator)
	mux.HandleFunc("POST /api/v1/mfa/requests", mfaHandler.StartRequest)
	mux.HandleFunc("POST /api/v1/mfa/requests/{id}/verify", mfaHandler.VerifyRequest)

	// bearer-protected account surface
	protected := http.NewServeMux()
	protected.HandleFunc("POST /api/v1/auth/revoke", authHandler.Revoke)
	protected.HandleFunc("DELETE /api/v1/mfa/authenticators/{id}", mfaHandler.RemoveAuthenticator)
	protected.HandleFunc("PUT /api/v1/mfa/order", mfaHandler.SetOrder)
	protected.HandleFunc("POST /api/v1/keystore", keyStoreHandler.Create)
	protected.HandleFunc("POST /api/v1/keystore/{id}/retrieve", keyStoreHandler.Retrieve)
	protected.HandleFunc("DELETE /api/v1/keystore/{id}", keyStoreHandler.Delete)
	protected.HandleFunc("GET /api/v1/record", recordHandler.Get)
	protected.HandleFunc("DELETE /api/v1/record", recordHandler.Delete)
	mux.Handle("/api/v1/", authenticate.Handle(protected))

	if r.scimHandler != nil {
		mux.Handle("/scim/", http.StripPrefix("/scim", r.scimHandler))
	}

	return logging.Handle(mux)
}
