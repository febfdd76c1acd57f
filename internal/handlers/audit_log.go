package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/oceandive/divetrack/backend/internal/services"
	"github.com/oceandive/divetrack/backend/pkg/response"
	"gorm.io/gorm"
)

type AuditLogHandler struct {
	service   *services.AuditLogService
	configSvc *services.SystemConfigService
}

func NewAuditLogHandler(db *gorm.DB) *AuditLogHandler {
	return &AuditLogHandler{
		service:   services.NewAuditLogService(db),
		configSvc: services.NewSystemConfigService(db),
	}
}

// List returns audit entries with filtering and pagination
// GET /api/audit-logs
func (h *AuditLogHandler) List(c *gin.Context) {
	var req services.AuditLogListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.service.List(&req)
	if err != nil {
		response.ServerError(c, "failed to list audit logs")
		return
	}

	response.Success(c, resp)
}

// GetRetentionDays returns the audit retention setting
// GET /api/audit-logs/retention
func (h *AuditLogHandler) GetRetentionDays(c *gin.Context) {
	days := h.configSvc.GetIntWithDefault("audit_retention_days", 90)
	response.Success(c, gin.H{"retention_days": days})
}

// SetRetentionDays updates the audit retention setting
// PUT /api/audit-logs/retention
func (h *AuditLogHandler) SetRetentionDays(c *gin.Context) {
	var req struct {
		RetentionDays int `json:"retention_days" binding:"required,min=1,max=3650"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.configSvc.Set("audit_retention_days", strconv.Itoa(req.RetentionDays)); err != nil {
		response.ServerError(c, "failed to update retention")
		return
	}

	response.Success(c, gin.H{"retention_days": req.RetentionDays})
}

// Cleanup deletes audit entries older than the configured retention
// POST /api/audit-logs/cleanup
func (h *AuditLogHandler) Cleanup(c *gin.Context) {
	retentionDays := h.configSvc.GetIntWithDefault("audit_retention_days", 90)

	deleted, err := h.service.CleanupOldEntries(retentionDays)
	if err != nil {
		response.ServerError(c, "cleanup failed")
		return
	}

	response.Success(c, gin.H{"deleted": deleted, "retention_days": retentionDays})
}
