package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/migrations"
	"github.com/ekaya-inc/ekaya-connect/pkg/audit"
	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/config"
	"github.com/ekaya-inc/ekaya-connect/pkg/crypto"
	"github.com/ekaya-inc/ekaya-connect/pkg/database"
	"github.com/ekaya-inc/ekaya-connect/pkg/handlers"
	"github.com/ekaya-inc/ekaya-connect/pkg/middleware"
	"github.com/ekaya-inc/ekaya-connect/pkg/providers"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
	"github.com/ekaya-inc/ekaya-connect/pkg/telemetry"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("frontend_url", cfg.FrontendURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", cfg.Database.User+"@"+cfg.Database.Host+"/"+cfg.Database.Database),
		zap.Bool("redis", cfg.Redis.Enabled()),
		zap.Bool("telemetry", cfg.Telemetry.Enabled()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := database.Connect(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// OAuth state nonces live in Redis when configured so every replica shares them.
	nonces := services.NewMemoryNonceStore()
	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		nonces = services.NewRedisNonceStore(redisClient)
	} else {
		logger.Info("Redis not configured, OAuth state nonces are kept in memory")
	}

	box, err := crypto.NewSecretBox(cfg.CredentialsKey)
	if err != nil {
		logger.Fatal("Invalid credentials key", zap.Error(err))
	}

	overrides, err := providers.LoadOverrides(cfg.Providers.OverridesPath)
	if err != nil {
		logger.Fatal("Failed to load provider overrides", zap.Error(err))
	}
	registry, err := providers.NewRegistry(overrides)
	if err != nil {
		logger.Fatal("Failed to build provider registry", zap.Error(err))
	}

	httpClient := &http.Client{Timeout: cfg.Providers.RequestTimeout}

	tl := telemetry.NewNoop()
	if cfg.Telemetry.Enabled() {
		tl, err = telemetry.NewPostHog(cfg.Telemetry.PostHogAPIKey, cfg.Telemetry.PostHogEndpoint, logger)
		if err != nil {
			logger.Fatal("Failed to create telemetry client", zap.Error(err))
		}
	}
	defer func() {
		if err := tl.Close(); err != nil {
			logger.Warn("Failed to flush telemetry", zap.Error(err))
		}
	}()

	auditor := audit.NewSecurityAuditor(logger)

	// Repositories
	integrationRepo := repositories.NewIntegrationRepository(db, box)
	setupRepo := repositories.NewSetupStatusRepository(db)
	factsRepo := repositories.NewSetupFactsRepository(db)

	// Services
	setupService := services.NewSetupStatusService(registry, setupRepo, factsRepo, integrationRepo, tl, logger)
	integrationService := services.NewIntegrationService(registry, integrationRepo, auditor, tl, logger)
	apiKeyService := services.NewAPIKeyService(registry, providers.NewKeyVerifier(httpClient), integrationRepo, setupService, auditor, tl, logger)
	resolver := services.NewCredentialResolver(registry, integrationRepo, cfg.PlatformDefaults(), logger)
	oauthFlow := services.NewOAuthFlowService(services.OAuthFlowDeps{
		Registry:        registry,
		Resolver:        resolver,
		IntegrationRepo: integrationRepo,
		States:          services.NewStateCodec(cfg.OAuthStateSecret, nonces),
		Identity:        providers.NewIdentityProber(httpClient, providers.DefaultBreakerSettings(), logger),
		Setup:           setupService,
		Auditor:         auditor,
		Telemetry:       tl,
		HTTPClient:      httpClient,
		Logger:          logger,
	})
	webhookIngestor := services.NewWebhookIngestor(registry, integrationRepo, logger)

	// Auth
	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		logger.Fatal("Failed to create JWKS client", zap.Error(err))
	}
	defer jwksClient.Close()
	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwksClient, logger), logger)

	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		sessionSecret = cfg.OAuthStateSecret
	}
	sessions := auth.NewSessionStore(sessionSecret, cfg.FrontendURL, strings.HasPrefix(cfg.BaseURL, "https://"))
	sessions.SetCookieDomain(cfg.CookieDomain)

	// Handlers
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewProvidersHandler(registry, logger).RegisterRoutes(mux)
	handlers.NewIntegrationsHandler(integrationService, apiKeyService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewBYOKHandler(integrationService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewOAuthHandler(oauthFlow, sessions, strings.TrimSuffix(cfg.FrontendURL, "/")+"/settings/integrations", logger).
		RegisterRoutes(mux, authMiddleware)
	handlers.NewWebhookHandler(webhookIngestor, logger).RegisterRoutes(mux)
	handlers.NewSetupStatusHandler(setupService, logger).RegisterRoutes(mux, authMiddleware)

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting ekaya-connect",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
			zap.Bool("tls", cfg.TLSCertPath != ""))
		var err error
		if cfg.TLSCertPath != "" {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shut down", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsLocal() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// runMigrations applies the embedded schema over a short-lived database/sql handle.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	return database.RunMigrations(sqlDB, migrations.FS, logger.Named("migrations"))
}
