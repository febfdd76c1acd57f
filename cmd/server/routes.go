package main

import (
	"github.com/gin-gonic/gin"
	"github.com/oceandive/divetrack/backend/internal/handlers"
	"github.com/oceandive/divetrack/backend/internal/middleware"
	"github.com/oceandive/divetrack/backend/internal/models"
	"github.com/oceandive/divetrack/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// Rate limiter for credential-bearing routes
	authLimiter := middleware.NewRateLimiter(10, 20)

	// Health check and metrics
	r.GET("/health", svc.healthHandler.CheckHealth)
	r.GET("/metrics", handlers.MetricsHandler(models.GetDB(), svc.auditSink))

	// API routes
	api := r.Group("/api")
	{
		// Auth routes (public, rate limited)
		auth := api.Group("/auth", authLimiter.Middleware())
		{
			auth.POST("/login", svc.authHandler.Login)
			auth.POST("/register", svc.authHandler.Register)
			auth.POST("/google-login", svc.authHandler.GoogleLogin)
			auth.POST("/refresh", svc.authHandler.Refresh)
			auth.POST("/logout", svc.authHandler.Logout)
			auth.GET("/config", svc.authHandler.GetAuthConfig)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired(svc.codec))
		{
			// Auth
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.POST("/auth/logout-all", svc.authHandler.LogoutEverywhere)
			protected.POST("/auth/change-password", svc.authHandler.ChangePassword)

			// Sessions (active refresh tokens for the current user)
			protected.GET("/tokens", svc.sessionHandler.List)
			protected.DELETE("/tokens/:id", svc.sessionHandler.Revoke)
		}

		// Admin only routes
		admin := api.Group("")
		admin.Use(middleware.AuthRequired(svc.codec), middleware.AdminRequired())
		{
			// Users
			admin.GET("/users", svc.userHandler.List)
			admin.PUT("/users/:id", svc.userHandler.Update)
			admin.DELETE("/users/:id", svc.userHandler.Delete)

			// Audit Logs
			admin.GET("/audit-logs", svc.auditLogHandler.List)
			admin.GET("/audit-logs/retention", svc.auditLogHandler.GetRetentionDays)
			admin.PUT("/audit-logs/retention", svc.auditLogHandler.SetRetentionDays)
			admin.POST("/audit-logs/cleanup", svc.auditLogHandler.Cleanup)
		}
	}
}
