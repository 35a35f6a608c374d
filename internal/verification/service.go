package verification

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/caucode/backend/internal/solvedac"
	"github.com/caucode/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingLookup   = errors.New("profile lookup is required")
	errTransitionLost  = errors.New("transition already applied elsewhere")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew = "verification.service.new"
	opRequest    = "verification.request"
	opCheck      = "verification.check"
	opUserStatus = "verification.user_status"
	opSweep      = "verification.sweep"

	failureReasonNotFound = "profile not found"

	defaultCodeTTL       = 10 * time.Minute
	defaultMaxAttempts   = 3
	defaultAttemptWindow = time.Hour
)

// ProfileLookup is the narrow observer capability the state machine consumes.
// It must distinguish code-bearing profiles, existing profiles without the
// code, definitively missing handles (solvedac.ErrUserNotFound) and transient
// failures (*solvedac.APIError).
type ProfileLookup interface {
	UserProfile(ctx context.Context, handle string) (solvedac.Profile, error)
}

// ServiceConfig describes the dependencies of the verification service.
type ServiceConfig struct {
	Database        *gorm.DB
	Lookup          ProfileLookup
	Clock           func() time.Time
	Logger          *zap.Logger
	CodeTTL         time.Duration
	MaxAttempts     int
	AttemptWindow   time.Duration
	ChecksPerMinute int
}

// Service issues verification requests and drives their state machine.
// All state lives in the persisted rows; the service itself is stateless
// apart from the in-memory check limiter.
type Service struct {
	db            *gorm.DB
	lookup        ProfileLookup
	clock         func() time.Time
	logger        *zap.Logger
	codeTTL       time.Duration
	maxAttempts   int
	attemptWindow time.Duration
	limiter       *checkLimiter
}

// NewService constructs the verification service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Lookup == nil {
		return nil, newServiceError(opServiceNew, "missing_lookup", errMissingLookup)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	codeTTL := cfg.CodeTTL
	if codeTTL <= 0 {
		codeTTL = defaultCodeTTL
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	attemptWindow := cfg.AttemptWindow
	if attemptWindow <= 0 {
		attemptWindow = defaultAttemptWindow
	}

	return &Service{
		db:            cfg.Database,
		lookup:        cfg.Lookup,
		clock:         clock,
		logger:        logger,
		codeTTL:       codeTTL,
		maxAttempts:   maxAttempts,
		attemptWindow: attemptWindow,
		limiter:       newCheckLimiter(cfg.ChecksPerMinute),
	}, nil
}

// Issued is the outcome of a successful verification request.
type Issued struct {
	Code      string
	ExpiresAt time.Time
}

// RequestVerification allocates a fresh code for the user and claimed handle.
// Any previously pending request of the user is expired in the same
// transaction, so exactly one code per user is ever authoritative.
func (s *Service) RequestVerification(ctx context.Context, userID int64, handle string) (Issued, error) {
	handle = strings.TrimSpace(handle)
	if !ValidHandle(handle) {
		return Issued{}, ErrInvalidHandle
	}

	var user users.User
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Issued{}, newServiceError(opRequest, "user_not_found", err)
		}
		return Issued{}, newServiceError(opRequest, "user_select_failed", err)
	}
	if user.ProfileVerified {
		return Issued{}, ErrAlreadyVerified
	}

	now := s.clock().UTC()
	attempts := user.VerificationAttempts
	if attempts >= s.maxAttempts {
		if user.LastAttemptAt != nil {
			sinceLast := now.Sub(user.LastAttemptAt.UTC())
			if sinceLast < s.attemptWindow {
				return Issued{}, &TooManyAttemptsError{RetryAfter: s.attemptWindow - sinceLast}
			}
		}
		// The window elapsed; the budget resets with this attempt.
		attempts = 0
	}

	profile, err := s.lookup.UserProfile(ctx, handle)
	if err != nil {
		if errors.Is(err, solvedac.ErrUserNotFound) {
			return Issued{}, ErrUnknownHandle
		}
		s.logError(opRequest, "lookup_failed", err, zap.String("handle", handle))
		return Issued{}, errors.Join(ErrLookupUnavailable, err)
	}

	code, err := GenerateCode()
	if err != nil {
		return Issued{}, newServiceError(opRequest, "code_generation_failed", err)
	}

	request := Request{
		UserID:    userID,
		Code:      code,
		Handle:    handle,
		Status:    StatusPending,
		BioBefore: profile.Bio,
		ExpiresAt: now.Add(s.codeTTL),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Hard invalidation of the previous pending request: a later bio
		// match on its code must never verify.
		if err := tx.Model(&Request{}).
			Where("user_id = ? AND status = ?", userID, StatusPending).
			Update("status", StatusExpired).
			Error; err != nil {
			return newServiceError(opRequest, "supersede_failed", err)
		}
		if err := tx.Create(&request).Error; err != nil {
			return newServiceError(opRequest, "request_insert_failed", err)
		}
		if err := tx.Model(&users.User{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"verification_attempts":     attempts + 1,
				"last_verification_attempt": now,
			}).
			Error; err != nil {
			return newServiceError(opRequest, "attempt_update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opRequest, "transaction_failed", txErr, zap.Int64("user_id", userID))
		return Issued{}, txErr
	}

	s.logger.Info("verification requested",
		zap.Int64("user_id", userID),
		zap.String("handle", handle),
		zap.Time("expires_at", request.ExpiresAt))

	return Issued{Code: code, ExpiresAt: request.ExpiresAt}, nil
}

// CheckResult is the outcome of a status check.
type CheckResult struct {
	Status        Status
	Handle        string
	ExpiresAt     *time.Time
	VerifiedAt    *time.Time
	FailureReason string
}

func resultFrom(request Request) CheckResult {
	result := CheckResult{
		Status:        request.Status,
		Handle:        request.Handle,
		VerifiedAt:    request.VerifiedAt,
		FailureReason: request.FailureReason,
	}
	if request.Status == StatusPending {
		expiresAt := request.ExpiresAt
		result.ExpiresAt = &expiresAt
	}
	return result
}

// CheckStatus reports the current status of the request owning the code.
// Terminal states are returned side-effect-free without consulting the
// observer. A pending request is first lazily expired, then the observer is
// polled: finding the code drives the verified transition, a definitively
// missing handle drives the failed transition, and a transient lookup failure
// surfaces as a retryable error without touching stored state.
func (s *Service) CheckStatus(ctx context.Context, code string) (CheckResult, error) {
	if ok, retryAfter := s.limiter.reserve(code); !ok {
		return CheckResult{}, &RateLimitedError{RetryAfter: retryAfter}
	}

	var request Request
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CheckResult{}, ErrRequestNotFound
	}
	if err != nil {
		return CheckResult{}, newServiceError(opCheck, "request_select_failed", err)
	}

	if request.Status.Terminal() {
		return resultFrom(request), nil
	}

	now := s.clock().UTC()
	if now.After(request.ExpiresAt) {
		return s.transition(ctx, request, map[string]interface{}{
			"status": StatusExpired,
		})
	}

	profile, err := s.lookup.UserProfile(ctx, request.Handle)
	if err != nil {
		if errors.Is(err, solvedac.ErrUserNotFound) {
			return s.transition(ctx, request, map[string]interface{}{
				"status":         StatusFailed,
				"failure_reason": failureReasonNotFound,
			})
		}
		s.logError(opCheck, "lookup_failed", err, zap.String("handle", request.Handle))
		return CheckResult{}, errors.Join(ErrLookupUnavailable, err)
	}

	if ExtractCode(profile.Bio) != request.Code {
		return resultFrom(request), nil
	}

	return s.verify(ctx, request, profile, now)
}

// transition applies a guarded pending-to-terminal update. Losing the guard
// means a concurrent caller already moved the request; the stored state wins.
func (s *Service) transition(ctx context.Context, request Request, updates map[string]interface{}) (CheckResult, error) {
	result := s.db.WithContext(ctx).Model(&Request{}).
		Where("id = ? AND status = ?", request.ID, StatusPending).
		Updates(updates)
	if result.Error != nil {
		s.logError(opCheck, "transition_write_failed", result.Error, zap.Int64("request_id", request.ID))
		return CheckResult{}, newServiceError(opCheck, "transition_write_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return s.reload(ctx, request.ID)
	}

	var updated Request
	if err := s.db.WithContext(ctx).Where("id = ?", request.ID).First(&updated).Error; err != nil {
		return CheckResult{}, newServiceError(opCheck, "request_reload_failed", err)
	}
	return resultFrom(updated), nil
}

// verify applies the pending-to-verified transition together with the user
// snapshot in one transaction. The status guard makes the transition
// exactly-once under concurrent checks: the loser reloads and observes the
// winner's terminal state.
func (s *Service) verify(ctx context.Context, request Request, profile solvedac.Profile, now time.Time) (CheckResult, error) {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Request{}).
			Where("id = ? AND status = ?", request.ID, StatusPending).
			Updates(map[string]interface{}{
				"status":      StatusVerified,
				"verified_at": now,
				"bio_after":   profile.Bio,
			})
		if result.Error != nil {
			return newServiceError(opCheck, "verify_write_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return errTransitionLost
		}
		return tx.Model(&users.User{}).
			Where("user_id = ?", request.UserID).
			Updates(map[string]interface{}{
				"profile_verified":      true,
				"solvedac_handle":       request.Handle,
				"solvedac_tier":         profile.Tier,
				"solvedac_rating":       profile.Rating,
				"solvedac_solved_count": profile.SolvedCount,
				"solvedac_class":        profile.Class,
				"solvedac_last_synced":  now,
			}).
			Error
	})
	if errors.Is(txErr, errTransitionLost) {
		return s.reload(ctx, request.ID)
	}
	if txErr != nil {
		s.logError(opCheck, "verify_transaction_failed", txErr,
			zap.Int64("request_id", request.ID),
			zap.Int64("user_id", request.UserID))
		return CheckResult{}, newServiceError(opCheck, "verify_transaction_failed", txErr)
	}

	s.logger.Info("profile verified",
		zap.Int64("user_id", request.UserID),
		zap.String("handle", request.Handle))

	return s.reload(ctx, request.ID)
}

func (s *Service) reload(ctx context.Context, requestID int64) (CheckResult, error) {
	var request Request
	if err := s.db.WithContext(ctx).Where("id = ?", requestID).First(&request).Error; err != nil {
		return CheckResult{}, newServiceError(opCheck, "request_reload_failed", err)
	}
	return resultFrom(request), nil
}

// UserState summarizes a user's standing in the verification flow.
type UserState struct {
	Verified          bool
	Handle            string
	PendingCode       string
	PendingExpiresAt  *time.Time
	RemainingAttempts int
}

// UserStatus reports the caller's current verification standing: already
// verified, holding a live pending request, or eligible to request.
func (s *Service) UserStatus(ctx context.Context, userID int64) (UserState, error) {
	var user users.User
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return UserState{}, newServiceError(opUserStatus, "user_not_found", err)
		}
		return UserState{}, newServiceError(opUserStatus, "user_select_failed", err)
	}

	if user.ProfileVerified {
		state := UserState{Verified: true}
		if user.SolvedACHandle != nil {
			state.Handle = *user.SolvedACHandle
		}
		return state, nil
	}

	now := s.clock().UTC()
	var pending Request
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND expires_at > ?", userID, StatusPending, now).
		Order("created_at DESC").
		First(&pending).
		Error
	if err == nil {
		expiresAt := pending.ExpiresAt
		return UserState{
			Handle:           pending.Handle,
			PendingCode:      pending.Code,
			PendingExpiresAt: &expiresAt,
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return UserState{}, newServiceError(opUserStatus, "request_select_failed", err)
	}

	remaining := s.maxAttempts - user.VerificationAttempts
	if remaining < 0 {
		remaining = 0
	}
	if user.VerificationAttempts >= s.maxAttempts && user.LastAttemptAt != nil &&
		now.Sub(user.LastAttemptAt.UTC()) >= s.attemptWindow {
		remaining = s.maxAttempts
	}
	return UserState{RemainingAttempts: remaining}, nil
}

// ExpireStale flips every pending request past its expiry to expired.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Model(&Request{}).
		Where("status = ? AND expires_at < ?", StatusPending, s.clock().UTC()).
		Update("status", StatusExpired)
	if result.Error != nil {
		return 0, newServiceError(opSweep, "expire_write_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// Sweep periodically expires stale pending requests until the context is
// cancelled. The interval is a tunable, not a correctness knob: expiry is
// also applied lazily on status checks.
func (s *Service) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := s.ExpireStale(ctx)
			if err != nil {
				s.logError(opSweep, "expire_failed", err)
				continue
			}
			if expired > 0 {
				s.logger.Info("stale verification requests expired", zap.Int64("count", expired))
			}
		}
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("verification service error", attrs...)
}
