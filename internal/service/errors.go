package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConfiguration          = errors.New("invalid auth configuration")
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrRegistrationFailed     = errors.New("registration failed")
	ErrRefreshTokenInvalid    = errors.New("invalid refresh token")
	ErrTokenExpired           = errors.New("token expired")
	ErrTokenInvalid           = errors.New("token invalid")
	ErrInvalidSignature       = errors.New("token signature is invalid")
	ErrInsufficientCapability = errors.New("insufficient capability")
	ErrOAuthFailed            = errors.New("oauth login failed")
	ErrOAuthNotConfigured     = errors.New("oauth provider is not configured")
	ErrPasswordTooLong        = errors.New("password too long")
)

type RefreshFailureReason string

const (
	ReasonNotFound RefreshFailureReason = "not_found"
	ReasonExpired  RefreshFailureReason = "expired"
	ReasonRevoked  RefreshFailureReason = "revoked"
)

// RefreshTokenError is the single error for every unusable refresh token.
// It never carries the token value.
type RefreshTokenError struct {
	Reason RefreshFailureReason
}

func (e *RefreshTokenError) Error() string {
	return ErrRefreshTokenInvalid.Error()
}

func (e *RefreshTokenError) Is(target error) bool {
	return target == ErrRefreshTokenInvalid
}

// RateLimitExceededError is backpressure, not a security failure.
type RateLimitExceededError struct {
	Scope      string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Scope, e.RetryAfter)
}
