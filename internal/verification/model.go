package verification

import "time"

// Status enumerates the lifecycle of a verification request.
type Status string

const (
	// StatusPending marks a live request waiting for the code to appear in the bio.
	StatusPending Status = "pending"
	// StatusVerified marks a request whose code was observed before expiry.
	StatusVerified Status = "verified"
	// StatusExpired marks a request whose window elapsed or that was superseded.
	StatusExpired Status = "expired"
	// StatusFailed marks a request that can never verify (e.g. the handle vanished).
	StatusFailed Status = "failed"
)

// Terminal reports whether no further transition is permitted from the status.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusExpired || s == StatusFailed
}

// Request is one persisted verification attempt. At most one pending request
// exists per user: issuing a new one expires the prior pending row in the
// same transaction.
type Request struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID        int64      `gorm:"column:user_id;not null;index"`
	Code          string     `gorm:"column:code;size:32;not null;uniqueIndex"`
	Handle        string     `gorm:"column:solvedac_handle;size:50;not null;index"`
	Status        Status     `gorm:"column:status;size:20;not null;default:pending;index"`
	BioBefore     string     `gorm:"column:bio_before;type:text"`
	BioAfter      string     `gorm:"column:bio_after;type:text"`
	ExpiresAt     time.Time  `gorm:"column:expires_at;not null;index"`
	VerifiedAt    *time.Time `gorm:"column:verified_at"`
	FailureReason string     `gorm:"column:failure_reason;size:200"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Request) TableName() string {
	return "profile_verifications"
}
