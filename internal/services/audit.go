package services

import (
	"time"

	"github.com/oceandive/divetrack/backend/internal/config"
	"github.com/oceandive/divetrack/backend/internal/models"
	"github.com/oceandive/divetrack/backend/pkg/logger"
	"gorm.io/gorm"
)

// AuditLogger records security-relevant token events. Writes are strictly
// best-effort: a failed audit write is logged locally and never aborts the
// operation that triggered it.
type AuditLogger struct {
	sink    AuditSink
	enabled bool
}

func NewAuditLogger(sink AuditSink, cfg *config.AuthConfig) *AuditLogger {
	return &AuditLogger{
		sink:    sink,
		enabled: cfg.AuditEnabled,
	}
}

// Record appends one audit entry through the configured sink.
func (a *AuditLogger) Record(action string, userID *uint, ip, userAgent string, success bool, details string) {
	if !a.enabled || a.sink == nil {
		return
	}

	entry := &models.AuditLog{
		UserID:    userID,
		Action:    action,
		IPAddress: ip,
		UserAgent: userAgent,
		Success:   success,
		Details:   details,
		CreatedAt: time.Now(),
	}

	if err := a.sink.Enqueue(entry); err != nil {
		logger.Warn().
			Err(err).
			Str("action", action).
			Msg("audit write failed, continuing")
	}
}

// Enabled reports whether audit recording is active.
func (a *AuditLogger) Enabled() bool {
	return a.enabled && a.sink != nil
}

type AuditLogService struct {
	db *gorm.DB
}

func NewAuditLogService(db *gorm.DB) *AuditLogService {
	return &AuditLogService{db: db}
}

type AuditLogListRequest struct {
	Page      int    `form:"page" binding:"omitempty,min=1"`
	PageSize  int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	UserID    *uint  `form:"user_id"`
	Action    string `form:"action"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
}

type AuditLogListResponse struct {
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Items    []models.AuditLog `json:"items"`
}

func (s *AuditLogService) List(req *AuditLogListRequest) (*AuditLogListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	var entries []models.AuditLog
	var total int64

	query := s.db.Model(&models.AuditLog{})

	if req.UserID != nil {
		query = query.Where("user_id = ?", *req.UserID)
	}
	if req.Action != "" {
		query = query.Where("action = ?", req.Action)
	}
	if req.StartDate != "" {
		query = query.Where("created_at >= ?", req.StartDate)
	}
	if req.EndDate != "" {
		query = query.Where("created_at <= ?", req.EndDate+" 23:59:59")
	}

	query.Count(&total)

	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, err
	}

	return &AuditLogListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    entries,
	}, nil
}

// CleanupOldEntries deletes audit rows older than the retention period.
// Returns the number of deleted records.
func (s *AuditLogService) CleanupOldEntries(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoffTime := time.Now().AddDate(0, 0, -retentionDays)
	result := s.db.Where("created_at < ?", cutoffTime).Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}
