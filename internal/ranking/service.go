package ranking

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/caucode/backend/internal/users"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

var (
	// ErrNotRanked indicates the user has no verified profile and therefore
	// no position on the board.
	ErrNotRanked = errors.New("ranking: user is not ranked")

	errMissingDatabase = errors.New("database handle is required")
)

// ServiceError wraps persistence failures with a stable code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error { return e.err }

// Code returns the stable machine-readable error code.
func (e *ServiceError) Code() string { return e.code }

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Entry is one row of the leaderboard, built from the verified solved.ac
// snapshot stored on the user.
type Entry struct {
	Rank        int    `json:"rank"`
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Handle      string `json:"solvedac_handle"`
	Tier        int    `json:"tier"`
	Rating      int    `json:"rating"`
	SolvedCount int    `json:"solved_count"`
	Class       int    `json:"class"`
}

// ServiceConfig describes the dependencies of the ranking service.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service ranks verified users by their snapshotted solved.ac rating.
// Only users whose profile verification completed appear; the board is a
// read model over the users table, refreshed by the profile sync loop.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs the ranking service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError("ranking.service.new", "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// Global returns the top verified users ordered by rating, ties broken by
// solved count and then by who verified first.
func (s *Service) Global(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var rows []users.User
	err := s.db.WithContext(ctx).
		Where("profile_verified = ?", true).
		Order("solvedac_rating DESC, solvedac_solved_count DESC, created_at ASC").
		Limit(limit).
		Find(&rows).
		Error
	if err != nil {
		return nil, newServiceError("ranking.global", "select_failed", err)
	}

	entries := make([]Entry, 0, len(rows))
	for index, row := range rows {
		entries = append(entries, entryFrom(row, index+1))
	}
	return entries, nil
}

// Me returns the caller's own leaderboard entry and position.
func (s *Service) Me(ctx context.Context, userID int64) (Entry, error) {
	var user users.User
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, ErrNotRanked
	}
	if err != nil {
		return Entry{}, newServiceError("ranking.me", "user_select_failed", err)
	}
	if !user.ProfileVerified {
		return Entry{}, ErrNotRanked
	}

	rating := 0
	if user.SolvedACRating != nil {
		rating = *user.SolvedACRating
	}
	solved := 0
	if user.SolvedACSolvedCount != nil {
		solved = *user.SolvedACSolvedCount
	}

	// Rank is one plus the number of verified users strictly ahead under the
	// same ordering used by the board.
	var ahead int64
	err = s.db.WithContext(ctx).Model(&users.User{}).
		Where("profile_verified = ?", true).
		Where(
			s.db.Where("solvedac_rating > ?", rating).
				Or("solvedac_rating = ? AND solvedac_solved_count > ?", rating, solved).
				Or("solvedac_rating = ? AND solvedac_solved_count = ? AND created_at < ?", rating, solved, user.CreatedAt),
		).
		Count(&ahead).
		Error
	if err != nil {
		return Entry{}, newServiceError("ranking.me", "rank_count_failed", err)
	}

	return entryFrom(user, int(ahead)+1), nil
}

func entryFrom(user users.User, rank int) Entry {
	entry := Entry{
		Rank:        rank,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
	}
	if user.SolvedACHandle != nil {
		entry.Handle = *user.SolvedACHandle
	}
	if user.SolvedACTier != nil {
		entry.Tier = *user.SolvedACTier
	}
	if user.SolvedACRating != nil {
		entry.Rating = *user.SolvedACRating
	}
	if user.SolvedACSolvedCount != nil {
		entry.SolvedCount = *user.SolvedACSolvedCount
	}
	if user.SolvedACClass != nil {
		entry.Class = *user.SolvedACClass
	}
	return entry
}
