package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caucode/backend/internal/auth"
	"github.com/caucode/backend/internal/solvedac"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates the Google claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrNotFound indicates no user row exists for the given identifier.
	ErrNotFound = errors.New("users: not found")
)

// ProfileLookup fetches the public solved.ac profile for a handle.
type ProfileLookup interface {
	UserProfile(ctx context.Context, handle string) (solvedac.Profile, error)
}

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Lookup   ProfileLookup
	Logger   *zap.Logger
}

// Service manages account records and their solved.ac profile snapshots.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	lookup ProfileLookup
	logger *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		lookup: cfg.Lookup,
		logger: logger,
	}, nil
}

// ResolveGoogleUser returns the account for the validated Google claims,
// creating it on first login and refreshing mutable profile fields otherwise.
func (s *Service) ResolveGoogleUser(ctx context.Context, claims auth.GoogleClaims) (User, error) {
	googleID := normalize(claims.Subject)
	if googleID == "" || normalize(claims.Email) == "" {
		return User{}, ErrInvalidIdentity
	}

	var user User
	err := s.db.WithContext(ctx).
		Where("google_id = ?", googleID).
		First(&user).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = User{
			GoogleID:    googleID,
			Email:       normalize(claims.Email),
			DisplayName: normalize(claims.Name),
			AvatarURL:   normalize(claims.Picture),
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return User{}, err
		}
		s.logger.Info("account created",
			zap.Int64("user_id", user.ID),
			zap.String("email", user.Email))
		return user, nil
	}
	if err != nil {
		return User{}, err
	}

	updates := map[string]interface{}{}
	if email := normalize(claims.Email); email != "" && email != user.Email {
		updates["email"] = email
	}
	if name := normalize(claims.Name); name != "" && name != user.DisplayName {
		updates["display_name"] = name
	}
	if avatar := normalize(claims.Picture); avatar != "" && avatar != user.AvatarURL {
		updates["avatar_url"] = avatar
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&User{}).
			Where("user_id = ?", user.ID).
			Updates(updates).
			Error; err != nil {
			return User{}, err
		}
		if err := s.db.WithContext(ctx).Where("user_id = ?", user.ID).First(&user).Error; err != nil {
			return User{}, err
		}
	}

	return user, nil
}

// GetByID loads a single account row.
func (s *Service) GetByID(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// SyncStaleProfiles refreshes the solved.ac snapshot of verified users whose
// last sync is older than the staleness window. Lookup failures for individual
// users are logged and skipped; the sweep carries on.
func (s *Service) SyncStaleProfiles(ctx context.Context, staleness time.Duration) (int, error) {
	if s.lookup == nil {
		return 0, fmt.Errorf("users: profile lookup required for sync")
	}

	cutoff := s.now().UTC().Add(-staleness)
	var stale []User
	err := s.db.WithContext(ctx).
		Where("profile_verified = ? AND solvedac_handle IS NOT NULL", true).
		Where("solvedac_last_synced IS NULL OR solvedac_last_synced < ?", cutoff).
		Find(&stale).
		Error
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, user := range stale {
		profile, err := s.lookup.UserProfile(ctx, *user.SolvedACHandle)
		if err != nil {
			s.logger.Warn("profile sync skipped",
				zap.Int64("user_id", user.ID),
				zap.String("handle", *user.SolvedACHandle),
				zap.Error(err))
			continue
		}
		if err := s.applySnapshot(ctx, user.ID, profile); err != nil {
			return synced, err
		}
		synced++
	}

	return synced, nil
}

func (s *Service) applySnapshot(ctx context.Context, userID int64, profile solvedac.Profile) error {
	now := s.now().UTC()
	return s.db.WithContext(ctx).Model(&User{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"solvedac_tier":         profile.Tier,
			"solvedac_rating":       profile.Rating,
			"solvedac_solved_count": profile.SolvedCount,
			"solvedac_class":        profile.Class,
			"solvedac_last_synced":  now,
		}).
		Error
}
