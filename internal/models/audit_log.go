package models

import "time"

// Audit actions recorded for token lifecycle events.
const (
	AuditTokenCreated       = "token_created"
	AuditTokenRefresh       = "token_refresh"
	AuditTokenRotated       = "token_rotated"
	AuditTokenRevoked       = "token_revoked"
	AuditTokenRevokeAll     = "token_revoke_all"
	AuditTokenReuseDetected = "token_reuse_detected"
)

// AuditLog is an append-only record of a security-relevant token event.
// Rows are never updated or deleted by the services; retention cleanup is
// a separate housekeeping concern.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    *uint     `gorm:"index" json:"user_id"`
	Action    string    `gorm:"size:50;index;not null" json:"action"`
	IPAddress string    `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent string    `gorm:"size:500" json:"user_agent,omitempty"`
	Success   bool      `json:"success"`
	Details   string    `gorm:"type:text" json:"details,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }
