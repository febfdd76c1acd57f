package main

import (
	"github.com/oceandive/divetrack/backend/internal/config"
	"github.com/oceandive/divetrack/backend/internal/handlers"
	"github.com/oceandive/divetrack/backend/internal/models"
	"github.com/oceandive/divetrack/backend/internal/services"
	"github.com/oceandive/divetrack/backend/internal/utils"
	"github.com/oceandive/divetrack/backend/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	cfg             *config.Config
	codec           *utils.JWTCodec
	tokenService    *services.TokenService
	authService     *services.AuthService
	auditSink       services.AuditSink
	auditWorker     *services.AuditWorker
	cleanupService  *services.TokenCleanupService
	authHandler     *handlers.AuthHandler
	sessionHandler  *handlers.SessionHandler
	userHandler     *handlers.UserHandler
	auditLogHandler *handlers.AuditLogHandler
	healthHandler   *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Seed default data
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	db := models.GetDB()

	// Audit pipeline (async via Redis when available, sync otherwise)
	auditSink := services.InitAuditSink(&cfg.Redis, db)
	auditLogger := services.NewAuditLogger(auditSink, &cfg.Auth)

	auditWorker := services.NewAuditWorker(&cfg.Redis, db)
	if auditWorker != nil {
		if err := auditWorker.Start(); err != nil {
			logger.Fatalf("Failed to start audit worker: %v", err)
		}
	}

	// Token lifecycle services
	codec := utils.NewJWTCodec(&cfg.Auth)
	store := services.NewRefreshTokenStore(db)
	tokenService := services.NewTokenService(db, store, codec, auditLogger, &cfg.Auth)

	googleVerifier := services.NewGoogleVerifier(&cfg.Google)
	authService := services.NewAuthService(db, tokenService, googleVerifier)

	// Housekeeping scheduler
	cleanupService := services.NewTokenCleanupService(db, store)
	if err := cleanupService.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start token cleanup scheduler")
	}

	// Create default admin user
	authHandler := handlers.NewAuthHandler(authService, tokenService, &cfg.Auth)
	if err := authHandler.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	return &appServices{
		cfg:             cfg,
		codec:           codec,
		tokenService:    tokenService,
		authService:     authService,
		auditSink:       auditSink,
		auditWorker:     auditWorker,
		cleanupService:  cleanupService,
		authHandler:     authHandler,
		sessionHandler:  handlers.NewSessionHandler(tokenService),
		userHandler:     handlers.NewUserHandler(db, tokenService),
		auditLogHandler: handlers.NewAuditLogHandler(db),
		healthHandler:   handlers.NewHealthHandler(db, auditSink),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.cleanupService.Stop()
	logger.Info().Msg("Schedulers stopped")

	if s.auditWorker != nil {
		s.auditWorker.Stop()
	}
	if s.auditSink != nil {
		s.auditSink.Close()
	}
}
