package services

import (
	"errors"
	"time"

	"github.com/oceandive/divetrack/backend/internal/models"
	"gorm.io/gorm"
)

// RefreshTokenStore owns all refresh_tokens rows. Every mutation is a
// predicate-guarded single statement, so callers never need to hold a lock
// across two round-trips and the revoked flag stays monotonic.
type RefreshTokenStore interface {
	Insert(rec *models.RefreshToken) error
	// Find returns the record regardless of revoked state; revoked rows
	// must stay fetchable so reuse can be detected and logged.
	Find(id string) (*models.RefreshToken, error)
	// RevokeIfActive flips is_revoked false->true and reports whether this
	// call performed the flip. Under concurrent calls on one id, exactly
	// one caller observes true.
	RevokeIfActive(id string) (bool, error)
	// RevokeOwned is RevokeIfActive additionally scoped to an owner, for
	// session deletion by id.
	RevokeOwned(userID uint, id string) (bool, error)
	// ConsumeForRotation revokes an active record and stamps the id of its
	// replacement in the same statement, so any later read of the revoked
	// row already sees where the token went. Under concurrent rotations of
	// one id exactly one caller observes true.
	ConsumeForRotation(id, replacementID string) (bool, error)
	CountActive(userID uint, now time.Time) (int64, error)
	// ListActive returns usable records ordered by created_at ascending.
	ListActive(userID uint, now time.Time) ([]models.RefreshToken, error)
	RevokeAll(userID uint) (int64, error)
	// RevokeAllExcept revokes the user's active records, sparing the ids
	// listed. Ids that don't exist yet are spared trivially.
	RevokeAllExcept(userID uint, sparedIDs []string) (int64, error)
	TouchLastUsed(id string, usedAt time.Time) error
	// PurgeExpired deletes rows whose expiry is before cutoff. Housekeeping
	// only; expiry is always re-checked at read time.
	PurgeExpired(cutoff time.Time) (int64, error)
}

type gormTokenStore struct {
	db *gorm.DB
}

func NewRefreshTokenStore(db *gorm.DB) RefreshTokenStore {
	return &gormTokenStore{db: db}
}

func (s *gormTokenStore) Insert(rec *models.RefreshToken) error {
	return s.db.Create(rec).Error
}

func (s *gormTokenStore) Find(id string) (*models.RefreshToken, error) {
	var rec models.RefreshToken
	if err := s.db.Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *gormTokenStore) RevokeIfActive(id string) (bool, error) {
	result := s.db.Model(&models.RefreshToken{}).
		Where("id = ? AND is_revoked = ?", id, false).
		Update("is_revoked", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *gormTokenStore) RevokeOwned(userID uint, id string) (bool, error) {
	result := s.db.Model(&models.RefreshToken{}).
		Where("id = ? AND user_id = ? AND is_revoked = ?", id, userID, false).
		Update("is_revoked", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *gormTokenStore) ConsumeForRotation(id, replacementID string) (bool, error) {
	result := s.db.Model(&models.RefreshToken{}).
		Where("id = ? AND is_revoked = ?", id, false).
		Updates(map[string]interface{}{
			"is_revoked":           true,
			"replaced_by_token_id": replacementID,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *gormTokenStore) CountActive(userID uint, now time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND is_revoked = ? AND expires_at > ?", userID, false, now).
		Count(&count).Error
	return count, err
}

func (s *gormTokenStore) ListActive(userID uint, now time.Time) ([]models.RefreshToken, error) {
	var recs []models.RefreshToken
	err := s.db.
		Where("user_id = ? AND is_revoked = ? AND expires_at > ?", userID, false, now).
		Order("created_at ASC").
		Find(&recs).Error
	return recs, err
}

func (s *gormTokenStore) RevokeAll(userID uint) (int64, error) {
	result := s.db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND is_revoked = ?", userID, false).
		Update("is_revoked", true)
	return result.RowsAffected, result.Error
}

func (s *gormTokenStore) RevokeAllExcept(userID uint, sparedIDs []string) (int64, error) {
	query := s.db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND is_revoked = ?", userID, false)
	if len(sparedIDs) > 0 {
		query = query.Where("id NOT IN ?", sparedIDs)
	}
	result := query.Update("is_revoked", true)
	return result.RowsAffected, result.Error
}

func (s *gormTokenStore) TouchLastUsed(id string, usedAt time.Time) error {
	return s.db.Model(&models.RefreshToken{}).
		Where("id = ?", id).
		Update("last_used_at", usedAt).Error
}

func (s *gormTokenStore) PurgeExpired(cutoff time.Time) (int64, error) {
	result := s.db.Where("expires_at < ?", cutoff).Delete(&models.RefreshToken{})
	return result.RowsAffected, result.Error
}
