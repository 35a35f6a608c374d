package sessions

import "time"

// Session is one persisted login. Tokens are stored as SHA-256 hashes so a
// database leak never exposes usable credentials.
type Session struct {
	ID               string    `gorm:"column:session_id;primaryKey;size:36;not null"`
	UserID           int64     `gorm:"column:user_id;not null;index"`
	AccessTokenHash  string    `gorm:"column:access_token_hash;size:64;not null;index"`
	RefreshTokenHash string    `gorm:"column:refresh_token_hash;size:64;index"`
	ExpiresAt        time.Time `gorm:"column:expires_at;not null;index"`
	LastAccessedAt   time.Time `gorm:"column:last_accessed_at"`
	UserAgent        string    `gorm:"column:user_agent;size:500"`
	IPAddress        string    `gorm:"column:ip_address;size:64"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "user_sessions"
}
