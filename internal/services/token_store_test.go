package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oceandive/divetrack/backend/internal/models"
	"gorm.io/gorm"
)

func insertToken(t *testing.T, store RefreshTokenStore, userID uint, createdAt, expiresAt time.Time) *models.RefreshToken {
	t.Helper()

	rec := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: uuid.NewString(),
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}
	if err := store.Insert(rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	return rec
}

func newTestStore(t *testing.T) (RefreshTokenStore, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewRefreshTokenStore(db), db
}

func TestTokenStore_FindUnknown(t *testing.T) {
	store, _ := newTestStore(t)

	rec, err := store.Find("no-such-id")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if rec != nil {
		t.Error("Find() of unknown id should return nil record")
	}
}

func TestTokenStore_FindReturnsRevokedRows(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()

	rec := insertToken(t, store, 1, now, now.Add(time.Hour))
	if _, err := store.RevokeIfActive(rec.ID); err != nil {
		t.Fatal(err)
	}

	found, err := store.Find(rec.ID)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if found == nil {
		t.Fatal("revoked rows must stay fetchable for reuse detection")
	}
	if !found.IsRevoked {
		t.Error("IsRevoked should be true")
	}
}

func TestTokenStore_RevokeIfActive_ExactlyOnce(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()

	rec := insertToken(t, store, 1, now, now.Add(time.Hour))

	first, err := store.RevokeIfActive(rec.ID)
	if err != nil {
		t.Fatalf("RevokeIfActive() error = %v", err)
	}
	if !first {
		t.Error("first call should win")
	}

	second, err := store.RevokeIfActive(rec.ID)
	if err != nil {
		t.Fatalf("second RevokeIfActive() error = %v", err)
	}
	if second {
		t.Error("second call must observe false")
	}
}

func TestTokenStore_RevokeOwned_Scoping(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()

	rec := insertToken(t, store, 1, now, now.Add(time.Hour))

	// Wrong owner does not revoke
	revoked, err := store.RevokeOwned(2, rec.ID)
	if err != nil {
		t.Fatalf("RevokeOwned() error = %v", err)
	}
	if revoked {
		t.Error("foreign owner must not be able to revoke")
	}

	found, _ := store.Find(rec.ID)
	if found.IsRevoked {
		t.Error("record should still be active")
	}

	// Right owner does
	revoked, err = store.RevokeOwned(1, rec.ID)
	if err != nil {
		t.Fatalf("RevokeOwned() error = %v", err)
	}
	if !revoked {
		t.Error("owner should be able to revoke")
	}
}

func TestTokenStore_CountAndListActive(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()

	oldest := insertToken(t, store, 1, now.Add(-3*time.Hour), now.Add(time.Hour))
	middle := insertToken(t, store, 1, now.Add(-2*time.Hour), now.Add(time.Hour))
	newest := insertToken(t, store, 1, now.Add(-1*time.Hour), now.Add(time.Hour))

	// Revoked and expired rows are not active
	revoked := insertToken(t, store, 1, now.Add(-4*time.Hour), now.Add(time.Hour))
	store.RevokeIfActive(revoked.ID)
	insertToken(t, store, 1, now.Add(-5*time.Hour), now.Add(-time.Minute))

	// Other user's rows don't count
	insertToken(t, store, 2, now, now.Add(time.Hour))

	count, err := store.CountActive(1, now)
	if err != nil {
		t.Fatalf("CountActive() error = %v", err)
	}
	if count != 3 {
		t.Errorf("CountActive = %d, expected 3", count)
	}

	active, err := store.ListActive(1, now)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("ListActive returned %d rows, expected 3", len(active))
	}

	expected := []string{oldest.ID, middle.ID, newest.ID}
	for i, rec := range active {
		if rec.ID != expected[i] {
			t.Errorf("position %d: id = %s, expected %s (oldest first)", i, rec.ID, expected[i])
		}
	}
}

func TestTokenStore_RevokeAll(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()

	insertToken(t, store, 1, now, now.Add(time.Hour))
	insertToken(t, store, 1, now, now.Add(time.Hour))
	already := insertToken(t, store, 1, now, now.Add(time.Hour))
	store.RevokeIfActive(already.ID)
	insertToken(t, store, 2, now, now.Add(time.Hour))

	count, err := store.RevokeAll(1)
	if err != nil {
		t.Fatalf("RevokeAll() error = %v", err)
	}
	if count != 2 {
		t.Errorf("RevokeAll = %d, expected 2 (already-revoked rows don't count)", count)
	}

	active, _ := store.ListActive(2, now)
	if len(active) != 1 {
		t.Errorf("other user's sessions = %d, expected 1 untouched", len(active))
	}
}

func TestTokenStore_ConsumeForRotation(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()

	old := insertToken(t, store, 1, now, now.Add(time.Hour))

	consumed, err := store.ConsumeForRotation(old.ID, "replacement-id")
	if err != nil {
		t.Fatalf("ConsumeForRotation() error = %v", err)
	}
	if !consumed {
		t.Error("first consume should win")
	}

	// Revocation and lineage land together
	found, _ := store.Find(old.ID)
	if !found.IsRevoked {
		t.Error("consumed record should be revoked")
	}
	if found.ReplacedByTokenID == nil || *found.ReplacedByTokenID != "replacement-id" {
		t.Error("ReplacedByTokenID not recorded")
	}

	// A second consume loses and must not rewrite the lineage
	consumed, err = store.ConsumeForRotation(old.ID, "other-id")
	if err != nil {
		t.Fatalf("second ConsumeForRotation() error = %v", err)
	}
	if consumed {
		t.Error("second consume must observe false")
	}
	found, _ = store.Find(old.ID)
	if *found.ReplacedByTokenID != "replacement-id" {
		t.Errorf("ReplacedByTokenID = %q, losing consume must not overwrite it", *found.ReplacedByTokenID)
	}
}

func TestTokenStore_RevokeAllExcept(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()

	spared := insertToken(t, store, 1, now, now.Add(time.Hour))
	insertToken(t, store, 1, now, now.Add(time.Hour))
	insertToken(t, store, 1, now, now.Add(time.Hour))
	foreign := insertToken(t, store, 2, now, now.Add(time.Hour))

	// Sparing an id that does not exist yet is harmless
	count, err := store.RevokeAllExcept(1, []string{spared.ID, "not-inserted-yet"})
	if err != nil {
		t.Fatalf("RevokeAllExcept() error = %v", err)
	}
	if count != 2 {
		t.Errorf("revoked = %d, expected 2", count)
	}

	found, _ := store.Find(spared.ID)
	if found.IsRevoked {
		t.Error("spared record must stay active")
	}
	found, _ = store.Find(foreign.ID)
	if found.IsRevoked {
		t.Error("other user's record must stay active")
	}
}

func TestTokenStore_TouchLastUsed(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now()

	rec := insertToken(t, store, 1, now, now.Add(time.Hour))
	if rec.LastUsedAt != nil {
		t.Fatal("LastUsedAt should start nil")
	}

	usedAt := now.Add(10 * time.Minute)
	if err := store.TouchLastUsed(rec.ID, usedAt); err != nil {
		t.Fatalf("TouchLastUsed() error = %v", err)
	}

	found, _ := store.Find(rec.ID)
	if found.LastUsedAt == nil {
		t.Fatal("LastUsedAt not set")
	}
	if found.LastUsedAt.Unix() != usedAt.Unix() {
		t.Errorf("LastUsedAt = %v, expected %v", found.LastUsedAt, usedAt)
	}
}

func TestTokenStore_PurgeExpired(t *testing.T) {
	store, db := newTestStore(t)
	now := time.Now()

	insertToken(t, store, 1, now.Add(-48*time.Hour), now.Add(-25*time.Hour))
	insertToken(t, store, 1, now.Add(-48*time.Hour), now.Add(-time.Hour))
	insertToken(t, store, 1, now, now.Add(time.Hour))

	// Cutoff a day back: only the long-expired row goes
	purged, err := store.PurgeExpired(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, expected 1", purged)
	}

	var remaining int64
	db.Model(&models.RefreshToken{}).Count(&remaining)
	if remaining != 2 {
		t.Errorf("remaining = %d, expected 2", remaining)
	}
}
