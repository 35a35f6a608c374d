package users

import (
	"strings"
	"time"
)

// User is the persisted account record. Accounts are created on first Google
// login and enriched by the profile verification flow and the periodic
// solved.ac snapshot sync. Rows are never hard-deleted.
type User struct {
	ID          int64  `gorm:"column:user_id;primaryKey;autoIncrement"`
	GoogleID    string `gorm:"column:google_id;size:190;not null;uniqueIndex"`
	Email       string `gorm:"column:email;size:320;not null;index"`
	DisplayName string `gorm:"column:display_name;size:190;not null"`
	AvatarURL   string `gorm:"column:avatar_url;size:512"`

	SolvedACHandle       *string    `gorm:"column:solvedac_handle;size:50;uniqueIndex"`
	ProfileVerified      bool       `gorm:"column:profile_verified;not null;default:false;index"`
	VerificationAttempts int        `gorm:"column:verification_attempts;not null;default:0"`
	LastAttemptAt        *time.Time `gorm:"column:last_verification_attempt"`

	SolvedACTier        *int       `gorm:"column:solvedac_tier"`
	SolvedACRating      *int       `gorm:"column:solvedac_rating;index"`
	SolvedACSolvedCount *int       `gorm:"column:solvedac_solved_count"`
	SolvedACClass       *int       `gorm:"column:solvedac_class"`
	SolvedACLastSynced  *time.Time `gorm:"column:solvedac_last_synced"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
