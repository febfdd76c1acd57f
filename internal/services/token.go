package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oceandive/divetrack/backend/internal/config"
	"github.com/oceandive/divetrack/backend/internal/models"
	"github.com/oceandive/divetrack/backend/internal/utils"
	"github.com/oceandive/divetrack/backend/pkg/logger"
	"gorm.io/gorm"
)

// ErrInvalidRefreshToken is the single rejection surfaced for every
// refresh-token failure: malformed shape, unknown id, revoked, expired,
// replay-window violation or subject mismatch. Collapsing them denies an
// attacker an oracle distinguishing the cases.
var ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")

// ErrSessionNotFound covers both unknown session ids and sessions owned by
// another user, so the response leaks no existence information.
var ErrSessionNotFound = errors.New("session not found")

// errTokenReused marks presentation of an already-consumed refresh token.
// Internal only; callers surface ErrInvalidRefreshToken.
var errTokenReused = errors.New("refresh token already consumed")

// RequestContext carries the client attributes captured for session
// listing and audit. Never used for authorization decisions.
type RequestContext struct {
	IPAddress string
	UserAgent string
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// SessionInfo is the read-only projection for session listing. The token
// hash is deliberately absent.
type SessionInfo struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	DeviceInfo string     `json:"device_info,omitempty"`
	IPAddress  string     `json:"ip_address,omitempty"`
}

// TokenService composes the codec, store and audit logger into the token
// lifecycle operations. It holds no per-request state; the store is the
// only shared mutable resource.
type TokenService struct {
	db    *gorm.DB
	store RefreshTokenStore
	codec *utils.JWTCodec
	audit *AuditLogger
	cfg   *config.AuthConfig
	now   func() time.Time
}

func NewTokenService(db *gorm.DB, store RefreshTokenStore, codec *utils.JWTCodec, audit *AuditLogger, cfg *config.AuthConfig) *TokenService {
	return &TokenService{
		db:    db,
		store: store,
		codec: codec,
		audit: audit,
		cfg:   cfg,
		now:   time.Now,
	}
}

// CreateAccessToken mints a stateless signed access token for the user.
func (s *TokenService) CreateAccessToken(user *models.User) (string, error) {
	return s.codec.Sign(user.ID, user.Username, user.Role, s.now())
}

// CreateRefreshToken opens a new session for the user, evicting the oldest
// active sessions first if the cap would be exceeded. A store failure here
// is fatal: a token must never reach the client without its record.
func (s *TokenService) CreateRefreshToken(user *models.User, ctx RequestContext) (string, error) {
	return s.createRefreshToken(user, ctx, uuid.NewString())
}

func (s *TokenService) createRefreshToken(user *models.User, ctx RequestContext, id string) (string, error) {
	if err := s.enforceSessionLimit(user.ID); err != nil {
		return "", err
	}

	now := s.now()
	opaque := fmt.Sprintf("%s:%s:%d", user.Username, id, now.Unix())

	rec := &models.RefreshToken{
		ID:         id,
		UserID:     user.ID,
		TokenHash:  hashRefreshToken(opaque),
		DeviceInfo: ctx.UserAgent,
		IPAddress:  ctx.IPAddress,
		ExpiresAt:  now.Add(s.cfg.RefreshTokenLifetime()),
		CreatedAt:  now,
	}
	if err := s.store.Insert(rec); err != nil {
		return "", err
	}

	return opaque, nil
}

// enforceSessionLimit revokes the oldest active sessions until a new one
// fits under MaxActiveSessions. Eviction is FIFO by creation time.
func (s *TokenService) enforceSessionLimit(userID uint) error {
	now := s.now()
	count, err := s.store.CountActive(userID, now)
	if err != nil {
		return err
	}
	if count < int64(s.cfg.MaxActiveSessions) {
		return nil
	}

	active, err := s.store.ListActive(userID, now)
	if err != nil {
		return err
	}

	evict := len(active) - s.cfg.MaxActiveSessions + 1
	for i := 0; i < evict && i < len(active); i++ {
		if _, err := s.store.RevokeIfActive(active[i].ID); err != nil {
			return err
		}
		logger.Debug().
			Uint("user_id", userID).
			Str("token_id", active[i].ID).
			Msg("session limit reached, evicted oldest session")
	}
	return nil
}

// CreateTokenPair issues a fresh access/refresh pair for the user.
func (s *TokenService) CreateTokenPair(user *models.User, ctx RequestContext) (*TokenPair, error) {
	pair, err := s.issueTokenPair(user, ctx, uuid.NewString())
	if err != nil {
		return nil, err
	}
	s.audit.Record(models.AuditTokenCreated, &user.ID, ctx.IPAddress, ctx.UserAgent, true, "")
	return pair, nil
}

func (s *TokenService) issueTokenPair(user *models.User, ctx RequestContext, id string) (*TokenPair, error) {
	accessToken, err := s.CreateAccessToken(user)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.createRefreshToken(user, ctx, id)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int(s.codec.Lifetime().Seconds()),
	}, nil
}

// RefreshAccessToken validates a refresh token and mints a new access
// token without touching the refresh token's validity.
func (s *TokenService) RefreshAccessToken(opaque string, ctx RequestContext) (string, error) {
	rec, user, err := s.validateRefreshToken(opaque)
	if err != nil {
		if errors.Is(err, errTokenReused) {
			// Without rotation in play a revoked token is ordinary invalidity.
			return "", ErrInvalidRefreshToken
		}
		return "", err
	}

	accessToken, err := s.CreateAccessToken(user)
	if err != nil {
		return "", err
	}

	if err := s.store.TouchLastUsed(rec.ID, s.now()); err != nil {
		logger.Warn().Err(err).Str("token_id", rec.ID).Msg("failed to update last_used_at")
	}
	s.audit.Record(models.AuditTokenRefresh, &user.ID, ctx.IPAddress, ctx.UserAgent, true, "")

	return accessToken, nil
}

// RotateRefreshToken consumes a refresh token and issues a replacement
// pair. The predicate-guarded consume guarantees that of two concurrent
// rotations of the same token exactly one wins; the loser is treated as
// token reuse, which revokes the user's sessions except the replacement
// chain the contested token was rotated into.
func (s *TokenService) RotateRefreshToken(opaque string, ctx RequestContext) (*TokenPair, error) {
	rec, user, err := s.validateRefreshToken(opaque)
	if errors.Is(err, errTokenReused) {
		// Consumed by an earlier call: a replay indicator.
		return nil, s.handleTokenReuse(rec, ctx, true)
	}
	if err != nil {
		return nil, err
	}

	if !s.cfg.RotateRefreshTokens {
		accessToken, err := s.RefreshAccessToken(opaque, ctx)
		if err != nil {
			return nil, err
		}
		return &TokenPair{
			AccessToken:  accessToken,
			RefreshToken: opaque,
			TokenType:    "bearer",
			ExpiresIn:    int(s.codec.Lifetime().Seconds()),
		}, nil
	}

	// The replacement id is chosen up front so the consuming UPDATE records
	// the lineage atomically with the revocation. A racing request that
	// reads this record afterwards always sees where the token went.
	newID := uuid.NewString()
	consumed, err := s.store.ConsumeForRotation(rec.ID, newID)
	if err != nil {
		return nil, err
	}
	if !consumed {
		// Lost the race against a concurrent rotation of this exact token.
		// The winner's replacement must survive, so only this request is
		// rejected; the event is still audited as reuse.
		return nil, s.handleTokenReuse(rec, ctx, false)
	}

	pair, err := s.issueTokenPair(user, ctx, newID)
	if err != nil {
		return nil, err
	}

	s.audit.Record(models.AuditTokenCreated, &user.ID, ctx.IPAddress, ctx.UserAgent, true, "")
	s.audit.Record(models.AuditTokenRotated, &user.ID, ctx.IPAddress, ctx.UserAgent, true, "")

	return pair, nil
}

// handleTokenReuse reacts to an already-consumed token being presented
// again: a theft indicator. The event is audited distinctly from ordinary
// invalidity; when revokeFamily is set the user's session family is
// revoked as well, sparing the chain the token was legitimately rotated
// into — from a pair of requests racing on one token, exactly one new
// active record must remain, and it is the winner's. The caller still
// gets the generic error.
func (s *TokenService) handleTokenReuse(rec *models.RefreshToken, ctx RequestContext, revokeFamily bool) error {
	if rec == nil {
		return ErrInvalidRefreshToken
	}

	var revokedCount int64
	if revokeFamily {
		var err error
		revokedCount, err = s.store.RevokeAllExcept(rec.UserID, s.replacementLineage(rec))
		if err != nil {
			logger.Error().Err(err).Uint("user_id", rec.UserID).Msg("failed to revoke session family after token reuse")
		}
	}

	logger.Warn().
		Uint("user_id", rec.UserID).
		Str("token_id", rec.ID).
		Bool("family_revoked", revokeFamily).
		Int64("sessions_revoked", revokedCount).
		Msg("refresh token reuse detected")
	s.audit.Record(models.AuditTokenReuseDetected, &rec.UserID, ctx.IPAddress, ctx.UserAgent, false,
		fmt.Sprintf("token %s presented after consumption, %d sessions revoked", rec.ID, revokedCount))

	return ErrInvalidRefreshToken
}

// replacementLineage collects the record ids descending from rec through
// rotation. The live end of the chain may not be inserted yet when a
// racing request reads the consumed record; its id is still collected,
// since the consuming UPDATE stamps it before the insert.
func (s *TokenService) replacementLineage(rec *models.RefreshToken) []string {
	var ids []string
	next := rec.ReplacedByTokenID
	for next != nil && *next != "" && len(ids) < 64 {
		ids = append(ids, *next)
		descendant, err := s.store.Find(*next)
		if err != nil || descendant == nil {
			break
		}
		next = descendant.ReplacedByTokenID
	}
	return ids
}

// RevokeRefreshToken revokes the session behind the opaque token. Returns
// whether this call performed the revocation.
func (s *TokenService) RevokeRefreshToken(opaque string, ctx RequestContext) (bool, error) {
	_, recordID, _, err := parseRefreshToken(opaque)
	if err != nil {
		return false, ErrInvalidRefreshToken
	}

	rec, err := s.store.Find(recordID)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.TokenHash != hashRefreshToken(opaque) {
		return false, ErrInvalidRefreshToken
	}

	revoked, err := s.store.RevokeIfActive(recordID)
	if err != nil {
		return false, err
	}
	if revoked {
		s.audit.Record(models.AuditTokenRevoked, &rec.UserID, ctx.IPAddress, ctx.UserAgent, true, "")
	}
	return revoked, nil
}

// RevokeAllUserTokens revokes every active session of the user. Used on
// password change and logout-everywhere.
func (s *TokenService) RevokeAllUserTokens(userID uint, ctx RequestContext) (int64, error) {
	count, err := s.store.RevokeAll(userID)
	if err != nil {
		return 0, err
	}
	s.audit.Record(models.AuditTokenRevokeAll, &userID, ctx.IPAddress, ctx.UserAgent, true,
		fmt.Sprintf("%d sessions revoked", count))
	return count, nil
}

// ListActiveSessions returns the user's usable sessions, oldest first.
func (s *TokenService) ListActiveSessions(userID uint) ([]SessionInfo, error) {
	recs, err := s.store.ListActive(userID, s.now())
	if err != nil {
		return nil, err
	}

	sessions := make([]SessionInfo, 0, len(recs))
	for _, rec := range recs {
		sessions = append(sessions, SessionInfo{
			ID:         rec.ID,
			CreatedAt:  rec.CreatedAt,
			LastUsedAt: rec.LastUsedAt,
			ExpiresAt:  rec.ExpiresAt,
			DeviceInfo: rec.DeviceInfo,
			IPAddress:  rec.IPAddress,
		})
	}
	return sessions, nil
}

// RevokeSessionByID revokes one session by record id, scoped to its owner.
// Unknown ids and ids owned by someone else fail identically.
func (s *TokenService) RevokeSessionByID(userID uint, sessionID string, ctx RequestContext) error {
	revoked, err := s.store.RevokeOwned(userID, sessionID)
	if err != nil {
		return err
	}
	if !revoked {
		return ErrSessionNotFound
	}
	s.audit.Record(models.AuditTokenRevoked, &userID, ctx.IPAddress, ctx.UserAgent, true,
		fmt.Sprintf("session %s revoked by owner", sessionID))
	return nil
}

// PurgeExpiredTokens removes rows long past expiry. Optional housekeeping.
func (s *TokenService) PurgeExpiredTokens() (int64, error) {
	return s.store.PurgeExpired(s.now())
}

// validateRefreshToken runs the full acceptance chain. Malformed input is
// rejected before any store access. A record that would otherwise be
// acceptable but is already revoked yields errTokenReused so rotation can
// react to it; every other failure collapses to ErrInvalidRefreshToken.
func (s *TokenService) validateRefreshToken(opaque string) (*models.RefreshToken, *models.User, error) {
	username, recordID, issuedAt, err := parseRefreshToken(opaque)
	if err != nil {
		return nil, nil, ErrInvalidRefreshToken
	}

	rec, err := s.store.Find(recordID)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, ErrInvalidRefreshToken
	}

	if rec.TokenHash != hashRefreshToken(opaque) {
		return nil, nil, ErrInvalidRefreshToken
	}

	now := s.now()
	if !now.Before(rec.ExpiresAt) {
		return nil, nil, ErrInvalidRefreshToken
	}
	// Replay window: independent of and stricter than the stored expiry.
	if now.Sub(issuedAt) > s.cfg.ReplayMaxAge() {
		return nil, nil, ErrInvalidRefreshToken
	}

	var user models.User
	if err := s.db.First(&user, rec.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrInvalidRefreshToken
		}
		return nil, nil, err
	}
	if user.Username != username || !user.IsActive {
		return nil, nil, ErrInvalidRefreshToken
	}

	if rec.IsRevoked {
		return rec, &user, errTokenReused
	}

	return rec, &user, nil
}

// parseRefreshToken splits the opaque "{username}:{record_id}:{unix}"
// shape. Anything else is rejected without a database round-trip.
func parseRefreshToken(opaque string) (username, recordID string, issuedAt time.Time, err error) {
	parts := strings.Split(opaque, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", time.Time{}, ErrInvalidRefreshToken
	}

	unix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", time.Time{}, ErrInvalidRefreshToken
	}

	return parts[0], parts[1], time.Unix(unix, 0), nil
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
