package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dtroode/keyhaven-identity/database"
	httpctx "github.com/dtroode/keyhaven-identity/internal/api/http/context"
	"github.com/dtroode/keyhaven-identity/internal/api/http/router"
	httpserver "github.com/dtroode/keyhaven-identity/internal/api/http/server"
	"github.com/dtroode/keyhaven-identity/internal/config"
	"github.com/dtroode/keyhaven-identity/internal/crypto"
	"github.com/dtroode/keyhaven-identity/internal/directory/scim"
	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/messenger"
	"github.com/dtroode/keyhaven-identity/internal/model"
	"github.com/dtroode/keyhaven-identity/internal/repository/postgres"
	"github.com/dtroode/keyhaven-identity/internal/server"
	"github.com/dtroode/keyhaven-identity/internal/service"
	storage "github.com/dtroode/keyhaven-identity/internal/storage/minio"
	"github.com/dtroode/keyhaven-identity/internal/token"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	l := logger.New(cfg.LogLevel)
	l.Info("starting keyhaven identity server",
		"version", buildVersion,
		"build_date", buildDate,
		"commit", buildCommit)

	if err := database.Migrate(ctx, cfg.Database.DSN); err != nil {
		l.Fatal("failed to run migrations", "error", err.Error())
	}

	db, err := postgres.NewConnection(ctx, cfg.Database.DSN)
	if err != nil {
		l.Fatal("failed to connect to database", "error", err.Error())
	}
	defer db.Close()

	recordStore := postgres.NewAuthRecordRepository(db)
	orgStore := postgres.NewOrgRepository(db)

	minioClient, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		Secure: cfg.Storage.UseSSL,
	})
	if err != nil {
		l.Fatal("failed to create minio client", "error", err.Error())
	}
	blobStore, err := storage.NewClient(ctx, minioClient, cfg.Storage.Bucket)
	if err != nil {
		l.Fatal("failed to init blob storage", "error", err.Error())
	}

	cryptoProvider := crypto.NewProvider()
	tokenManager := token.NewJWT(cfg.JWT.Secret)
	mail := messenger.NewLog(l)

	webauthnProvider, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.WebAuthn.RPDisplayName,
		RPID:          cfg.WebAuthn.RPID,
		RPOrigins:     cfg.WebAuthn.RPOrigins,
	})
	if err != nil {
		l.Fatal("failed to init webauthn", "error", err.Error())
	}

	portableServer, err := service.NewWebAuthnServer(model.AuthTypeWebAuthnPortable, webauthnProvider)
	if err != nil {
		l.Fatal("failed to init webauthn server", "error", err.Error())
	}
	platformServer, err := service.NewWebAuthnServer(model.AuthTypeWebAuthnPlatform, webauthnProvider)
	if err != nil {
		l.Fatal("failed to init webauthn server", "error", err.Error())
	}

	authService := service.NewAuth(recordStore, cryptoProvider, crypto.DefaultKeyParams(cfg.KDF.Iterations), l)
	mfaService := service.NewMFA(recordStore, authService, cfg.MFA.RequestTTL, cfg.MFA.MaxTries, l,
		service.NewTOTPServer(service.TOTPConfig{
			Issuer: cfg.TOTP.Issuer,
			Digits: cfg.TOTP.Digits,
			Period: cfg.TOTP.Period,
			Skew:   cfg.TOTP.Skew,
		}, cryptoProvider),
		service.NewEmailServer(mail, cryptoProvider, cfg.MFA.EmailFrom),
		portableServer,
		platformServer,
	)
	sessionService := service.NewSession(recordStore, tokenManager, l)
	srpService := service.NewSRP(recordStore, authService, mfaService, sessionService, cryptoProvider, l)
	keyStoreService := service.NewKeyStore(recordStore, authService, mfaService, blobStore, l)

	reconciler := service.NewDirectory(orgStore, recordStore, l)
	dispatcher := service.NewDirectoryDispatcher(reconciler, cfg.Directory.EventBuffer, l)
	defer dispatcher.Close()

	scimHandler := scim.NewHandler(orgStore, l)
	scimHandler.Subscribe(dispatcher)

	contextManager := httpctx.NewManager()
	apiRouter := router.New(
		srpService,
		sessionService,
		mfaService,
		keyStoreService,
		authService,
		scimHandler,
		tokenManager,
		contextManager,
		l,
	)

	var securityLayer model.SecurityLayer
	if cfg.HTTP.EnableHTTPS {
		securityLayer = server.NewTLSListener(cfg.HTTP.CertFileName, cfg.HTTP.PrivateKeyFileName)
	} else {
		securityLayer = server.NewPlainListener()
	}

	srv := httpserver.NewHTTPServer(apiRouter.Register(), fmt.Sprintf(":%s", cfg.HTTP.Port))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Info("HTTP server listening", "addr", srv.Address())
		if err := srv.Start(securityLayer); err != nil {
			l.Error("HTTP server stopped", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	l.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		l.Error("failed to stop server", "error", err.Error())
	}

	wg.Wait()
	l.Info("server stopped")
}
