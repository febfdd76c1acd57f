package models

import "time"

// SystemConfig stores runtime-tunable key/value settings (audit retention,
// registration toggle). Auth lifetimes deliberately do not live here.
type SystemConfig struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ConfigKey   string    `gorm:"uniqueIndex;size:100;not null" json:"config_key"`
	Value       string    `gorm:"size:1000" json:"value"`
	Description string    `gorm:"size:500" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (SystemConfig) TableName() string { return "system_configs" }
