package services

import (
	"time"

	"github.com/oceandive/divetrack/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// TokenCleanupService purges long-expired refresh tokens and old audit
// rows. Pure housekeeping: acceptance checks re-derive expiry at read
// time, so correctness never depends on this running.
type TokenCleanupService struct {
	store     RefreshTokenStore
	auditSvc  *AuditLogService
	configSvc *SystemConfigService
	scheduler *cron.Cron
}

func NewTokenCleanupService(db *gorm.DB, store RefreshTokenStore) *TokenCleanupService {
	return &TokenCleanupService{
		store:     store,
		auditSvc:  NewAuditLogService(db),
		configSvc: NewSystemConfigService(db),
	}
}

// Start runs one cleanup immediately and then schedules a daily run.
func (s *TokenCleanupService) Start() error {
	go s.runCleanup()

	s.scheduler = cron.New()
	if _, err := s.scheduler.AddFunc("30 3 * * *", s.runCleanup); err != nil {
		return err
	}
	s.scheduler.Start()

	logger.Infof("[Cleanup] Token cleanup scheduler started (daily at 03:30)")
	return nil
}

// Stop halts the scheduler; an in-flight run finishes.
func (s *TokenCleanupService) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *TokenCleanupService) runCleanup() {
	// Keep expired rows around for a day so forensics can still see the
	// final state of a session shortly after it lapsed.
	cutoff := time.Now().Add(-24 * time.Hour)
	purged, err := s.store.PurgeExpired(cutoff)
	if err != nil {
		logger.Warn().Err(err).Msg("expired token purge failed")
	} else if purged > 0 {
		logger.Infof("[Cleanup] Purged %d expired refresh tokens", purged)
	}

	retentionDays := s.configSvc.GetIntWithDefault("audit_retention_days", 90)
	deleted, err := s.auditSvc.CleanupOldEntries(retentionDays)
	if err != nil {
		logger.Warn().Err(err).Msg("audit log cleanup failed")
	} else if deleted > 0 {
		logger.Infof("[Cleanup] Deleted %d audit entries older than %d days", deleted, retentionDays)
	}
}
