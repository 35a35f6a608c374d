package users

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/caucode/backend/internal/auth"
	"github.com/caucode/backend/internal/solvedac"
)

type staticLookup struct {
	profiles map[string]solvedac.Profile
	err      error
	calls    int
}

func (l *staticLookup) UserProfile(_ context.Context, handle string) (solvedac.Profile, error) {
	l.calls++
	if l.err != nil {
		return solvedac.Profile{}, l.err
	}
	profile, ok := l.profiles[handle]
	if !ok {
		return solvedac.Profile{}, solvedac.ErrUserNotFound
	}
	return profile, nil
}

func newTestService(t *testing.T, lookup ProfileLookup) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:caucode_users_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{Database: db, Lookup: lookup})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	return service, db
}

func TestResolveGoogleUserCreatesAccountOnFirstLogin(t *testing.T) {
	service, db := newTestService(t, nil)

	user, err := service.ResolveGoogleUser(context.Background(), auth.GoogleClaims{
		Subject: "google-1",
		Email:   "student@example.edu",
		Name:    "Student One",
		Picture: "https://example.com/avatar.png",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID == 0 {
		t.Fatalf("expected assigned user id")
	}
	if user.ProfileVerified {
		t.Fatalf("fresh accounts must start unverified")
	}

	var count int64
	if err := db.Model(&User{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count users: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one account row, got %d", count)
	}
}

func TestResolveGoogleUserIsIdempotent(t *testing.T) {
	service, db := newTestService(t, nil)
	claims := auth.GoogleClaims{Subject: "google-1", Email: "student@example.edu", Name: "Student"}

	first, err := service.ResolveGoogleUser(context.Background(), claims)
	if err != nil {
		t.Fatalf("first login failed: %v", err)
	}
	second, err := service.ResolveGoogleUser(context.Background(), claims)
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same account, got %d and %d", first.ID, second.ID)
	}

	var count int64
	if err := db.Model(&User{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count users: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one account row, got %d", count)
	}
}

func TestResolveGoogleUserRefreshesMutableFields(t *testing.T) {
	service, _ := newTestService(t, nil)

	if _, err := service.ResolveGoogleUser(context.Background(), auth.GoogleClaims{
		Subject: "google-1", Email: "student@example.edu", Name: "Old Name",
	}); err != nil {
		t.Fatalf("first login failed: %v", err)
	}

	updated, err := service.ResolveGoogleUser(context.Background(), auth.GoogleClaims{
		Subject: "google-1", Email: "student@example.edu", Name: "New Name",
	})
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}
	if updated.DisplayName != "New Name" {
		t.Fatalf("expected refreshed display name, got %q", updated.DisplayName)
	}
}

func TestResolveGoogleUserRejectsEmptyIdentity(t *testing.T) {
	service, _ := newTestService(t, nil)

	if _, err := service.ResolveGoogleUser(context.Background(), auth.GoogleClaims{Email: "x@y.z"}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity for missing subject, got %v", err)
	}
	if _, err := service.ResolveGoogleUser(context.Background(), auth.GoogleClaims{Subject: "google-1"}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity for missing email, got %v", err)
	}
}

func TestGetByIDMissingUser(t *testing.T) {
	service, _ := newTestService(t, nil)

	if _, err := service.GetByID(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSyncStaleProfilesRefreshesSnapshots(t *testing.T) {
	lookup := &staticLookup{profiles: map[string]solvedac.Profile{
		"solver": {Handle: "solver", Tier: 18, Rating: 1950, SolvedCount: 800, Class: 5},
	}}
	service, db := newTestService(t, lookup)

	handle := "solver"
	oldTier := 17
	lastSynced := time.Now().UTC().Add(-24 * time.Hour)
	verified := User{
		GoogleID:           "google-1",
		Email:              "student@example.edu",
		DisplayName:        "Student",
		SolvedACHandle:     &handle,
		ProfileVerified:    true,
		SolvedACTier:       &oldTier,
		SolvedACLastSynced: &lastSynced,
	}
	if err := db.Create(&verified).Error; err != nil {
		t.Fatalf("failed to seed verified user: %v", err)
	}
	fresh := User{GoogleID: "google-2", Email: "other@example.edu", DisplayName: "Other"}
	if err := db.Create(&fresh).Error; err != nil {
		t.Fatalf("failed to seed unverified user: %v", err)
	}

	synced, err := service.SyncStaleProfiles(context.Background(), 6*time.Hour)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if synced != 1 {
		t.Fatalf("expected 1 synced profile, got %d", synced)
	}

	var reloaded User
	if err := db.Where("user_id = ?", verified.ID).First(&reloaded).Error; err != nil {
		t.Fatalf("failed to reload user: %v", err)
	}
	if reloaded.SolvedACTier == nil || *reloaded.SolvedACTier != 18 {
		t.Fatalf("expected refreshed tier 18, got %v", reloaded.SolvedACTier)
	}
	if reloaded.SolvedACRating == nil || *reloaded.SolvedACRating != 1950 {
		t.Fatalf("expected refreshed rating, got %v", reloaded.SolvedACRating)
	}
}

func TestSyncStaleProfilesSkipsLookupFailures(t *testing.T) {
	lookup := &staticLookup{err: &solvedac.APIError{StatusCode: 503}}
	service, db := newTestService(t, lookup)

	handle := "solver"
	verified := User{
		GoogleID:        "google-1",
		Email:           "student@example.edu",
		DisplayName:     "Student",
		SolvedACHandle:  &handle,
		ProfileVerified: true,
	}
	if err := db.Create(&verified).Error; err != nil {
		t.Fatalf("failed to seed verified user: %v", err)
	}

	synced, err := service.SyncStaleProfiles(context.Background(), 6*time.Hour)
	if err != nil {
		t.Fatalf("sync must carry on past individual failures: %v", err)
	}
	if synced != 0 {
		t.Fatalf("expected no synced profiles, got %d", synced)
	}
}
