package sessions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrSessionNotFound indicates no live session matches the presented token.
var ErrSessionNotFound = errors.New("sessions: not found")

// StoreConfig describes the dependencies required for the session store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	TTL      time.Duration
	Logger   *zap.Logger
}

// Store persists login sessions keyed by hashed bearer tokens.
type Store struct {
	db     *gorm.DB
	now    func() time.Time
	ttl    time.Duration
	logger *zap.Logger
}

// NewStore constructs the session store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("sessions: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, now: clock, ttl: ttl, logger: logger}, nil
}

// Create records a new session for the issued token pair.
func (s *Store) Create(ctx context.Context, userID int64, accessToken, refreshToken, userAgent, ipAddress string) (Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Session{}, err
	}

	now := s.now().UTC()
	session := Session{
		ID:               id.String(),
		UserID:           userID,
		AccessTokenHash:  hashToken(accessToken),
		RefreshTokenHash: hashToken(refreshToken),
		ExpiresAt:        now.Add(s.ttl),
		LastAccessedAt:   now,
		UserAgent:        userAgent,
		IPAddress:        ipAddress,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return Session{}, err
	}
	return session, nil
}

// FindByRefreshToken returns the live session matching the refresh token.
func (s *Store) FindByRefreshToken(ctx context.Context, refreshToken string) (Session, error) {
	var session Session
	err := s.db.WithContext(ctx).
		Where("refresh_token_hash = ? AND expires_at > ?", hashToken(refreshToken), s.now().UTC()).
		First(&session).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return session, nil
}

// RevokeByAccessToken deletes the session matching the access token.
func (s *Store) RevokeByAccessToken(ctx context.Context, accessToken string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("access_token_hash = ?", hashToken(accessToken)).
		Delete(&Session{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RevokeByRefreshToken deletes the session matching the refresh token. Used
// on rotation so a refresh token is good for exactly one exchange.
func (s *Store) RevokeByRefreshToken(ctx context.Context, refreshToken string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("refresh_token_hash = ?", hashToken(refreshToken)).
		Delete(&Session{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RevokeAllForUser deletes every session of a user and reports how many were removed.
func (s *Store) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&Session{})
	return result.RowsAffected, result.Error
}

// DeleteExpired removes sessions past their expiry.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", s.now().UTC()).
		Delete(&Session{})
	return result.RowsAffected, result.Error
}

// Sweep periodically prunes expired sessions until the context is cancelled.
func (s *Store) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.DeleteExpired(ctx)
			if err != nil {
				s.logger.Error("session sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("expired sessions removed", zap.Int64("count", removed))
			}
		}
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
