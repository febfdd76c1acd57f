package models

import "time"

// RefreshToken is one active login session. The row is owned exclusively
// by the token store; IsRevoked only ever moves from false to true.
type RefreshToken struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"` // server-generated UUID
	UserID            uint       `gorm:"index;not null" json:"user_id"`
	TokenHash         string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	DeviceInfo        string     `gorm:"size:255" json:"device_info,omitempty"`
	IPAddress         string     `gorm:"size:64" json:"ip_address,omitempty"`
	ExpiresAt         time.Time  `gorm:"index;not null" json:"expires_at"`
	IsRevoked         bool       `gorm:"index;default:false" json:"is_revoked"`
	ReplacedByTokenID *string    `gorm:"size:36;index" json:"replaced_by_token_id,omitempty"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
	CreatedAt         time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (RefreshToken) TableName() string { return "refresh_tokens" }
