package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oceandive/divetrack/backend/internal/models"
	"github.com/oceandive/divetrack/backend/internal/services"
	"gorm.io/gorm"
)

// HealthHandler provides enhanced health check endpoints.
type HealthHandler struct {
	db   *gorm.DB
	sink services.AuditSink
}

func NewHealthHandler(db *gorm.DB, sink services.AuditSink) *HealthHandler {
	return &HealthHandler{db: db, sink: sink}
}

// CheckHealth returns the health status of all subsystems.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"

	// Database check
	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	// Audit sink mode
	auditMode := "sync"
	if h.sink != nil && h.sink.IsAsync() {
		auditMode = "async (Redis)"
	}

	// Usable refresh-token records across all users
	var activeSessions int64
	h.db.Model(&models.RefreshToken{}).
		Where("is_revoked = ? AND expires_at > ?", false, time.Now()).
		Count(&activeSessions)

	c.JSON(200, gin.H{
		"status":  overall,
		"service": "divetrack",
		"components": gin.H{
			"database":        dbStatus,
			"audit_mode":      auditMode,
			"active_sessions": activeSessions,
		},
	})
}
