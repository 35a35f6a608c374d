package database

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/caucode/backend/internal/users"
	"github.com/caucode/backend/internal/verification"
)

func TestApplyMigrationsExpiresOrphanedPending(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&users.User{}, &verification.Request{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	stale := verification.Request{
		UserID:    1,
		Code:      "CAU-CODE-STALE0000001",
		Handle:    "solver",
		Status:    verification.StatusPending,
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	if err := database.Create(&stale).Error; err != nil {
		testContext.Fatalf("failed to insert stale request: %v", err)
	}
	live := verification.Request{
		UserID:    2,
		Code:      "CAU-CODE-LIVE00000001",
		Handle:    "other",
		Status:    verification.StatusPending,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if err := database.Create(&live).Error; err != nil {
		testContext.Fatalf("failed to insert live request: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var storedStale verification.Request
	if err := database.Where("code = ?", stale.Code).Take(&storedStale).Error; err != nil {
		testContext.Fatalf("failed to reload stale request: %v", err)
	}
	if storedStale.Status != verification.StatusExpired {
		testContext.Fatalf("expected stale request expired, got %s", storedStale.Status)
	}

	var storedLive verification.Request
	if err := database.Where("code = ?", live.Code).Take(&storedLive).Error; err != nil {
		testContext.Fatalf("failed to reload live request: %v", err)
	}
	if storedLive.Status != verification.StatusPending {
		testContext.Fatalf("expected live request untouched, got %s", storedLive.Status)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationExpireOrphanedPending).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsClearsDanglingVerifiedFlags(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&users.User{}, &verification.Request{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	dangling := users.User{
		GoogleID:        "google-dangling",
		Email:           "dangling@example.edu",
		DisplayName:     "dangling",
		ProfileVerified: true,
	}
	if err := database.Create(&dangling).Error; err != nil {
		testContext.Fatalf("failed to insert dangling user: %v", err)
	}
	handle := "solver"
	sound := users.User{
		GoogleID:        "google-sound",
		Email:           "sound@example.edu",
		DisplayName:     "sound",
		ProfileVerified: true,
		SolvedACHandle:  &handle,
	}
	if err := database.Create(&sound).Error; err != nil {
		testContext.Fatalf("failed to insert sound user: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var storedDangling users.User
	if err := database.Where("user_id = ?", dangling.ID).Take(&storedDangling).Error; err != nil {
		testContext.Fatalf("failed to reload dangling user: %v", err)
	}
	if storedDangling.ProfileVerified {
		testContext.Fatalf("expected dangling verified flag cleared")
	}

	var storedSound users.User
	if err := database.Where("user_id = ?", sound.ID).Take(&storedSound).Error; err != nil {
		testContext.Fatalf("failed to reload sound user: %v", err)
	}
	if !storedSound.ProfileVerified {
		testContext.Fatalf("expected sound user to stay verified")
	}
}
