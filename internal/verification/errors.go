package verification

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidHandle indicates the claimed handle fails solved.ac syntax rules.
	ErrInvalidHandle = errors.New("verification: invalid solved.ac handle")
	// ErrAlreadyVerified indicates the user already holds the verified flag.
	ErrAlreadyVerified = errors.New("verification: profile already verified")
	// ErrUnknownHandle indicates solved.ac definitively reports the handle does not exist.
	ErrUnknownHandle = errors.New("verification: handle not found on solved.ac")
	// ErrRequestNotFound indicates no verification request matches the code.
	ErrRequestNotFound = errors.New("verification: request not found")
	// ErrLookupUnavailable marks a transient solved.ac failure. Retryable;
	// never drives a state transition.
	ErrLookupUnavailable = errors.New("verification: solved.ac lookup unavailable")
)

// RateLimitedError reports that status checks for a code are temporarily
// exhausted. Not a state transition; the caller may retry after RetryAfter.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("verification: rate limited, retry after %s", e.RetryAfter)
}

// TooManyAttemptsError reports that the user's issuance budget is spent for
// the current window.
type TooManyAttemptsError struct {
	RetryAfter time.Duration
}

func (e *TooManyAttemptsError) Error() string {
	return fmt.Sprintf("verification: attempt limit reached, retry after %s", e.RetryAfter)
}

// ServiceError wraps persistence and wiring failures with a stable code.
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

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable machine-readable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
