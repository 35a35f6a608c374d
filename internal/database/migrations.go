package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/caucode/backend/internal/users"
	"github.com/caucode/backend/internal/verification"
)

const (
	migrationExpireOrphanedPending = "2026-07-14_expire_orphaned_pending_verifications"
	migrationClearDanglingVerified = "2026-07-14_clear_dangling_verified_flags"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationExpireOrphanedPending, apply: expireOrphanedPending},
		{name: migrationClearDanglingVerified, apply: clearDanglingVerifiedFlags},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// expireOrphanedPending flips pending verification rows whose window already
// lapsed. Rows left pending across a long downtime would otherwise wait for
// the first status check to expire lazily.
func expireOrphanedPending(db *gorm.DB) error {
	return db.Model(&verification.Request{}).
		Where("status = ? AND expires_at < ?", verification.StatusPending, time.Now().UTC()).
		Update("status", verification.StatusExpired).Error
}

// clearDanglingVerifiedFlags resets users marked verified without a bound
// handle, a state an old issuance bug could leave behind.
func clearDanglingVerifiedFlags(db *gorm.DB) error {
	return db.Model(&users.User{}).
		Where("profile_verified = ? AND solvedac_handle IS NULL", true).
		Update("profile_verified", false).Error
}
