package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID    `json:"id"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"`
	FirstName    string       `json:"first_name"`
	LastName     string       `json:"last_name"`
	Role         Role         `json:"role"`
	Provider     AuthProvider `json:"provider"`
	Timestamps
}

// RefreshToken is a persisted refresh-token record. Token holds the plaintext
// value only right after issuance; the store keeps TokenHash.
type RefreshToken struct {
	ID        int64     `json:"id"`
	Token     string    `json:"-"`
	TokenHash string    `json:"-"`
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	Timestamps
}

// Expired reports whether the token is past its expiry at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Session is what a successful register, login or refresh hands back.
type Session struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	User            *User
}

// OAuthProfile is the verified identity returned by an external provider.
type OAuthProfile struct {
	Email      string
	GivenName  string
	FamilyName string
	Provider   AuthProvider
}

// OAuthState is the pending authorization kept between start and callback.
type OAuthState struct {
	State        string `json:"state"`
	CodeVerifier string `json:"code_verifier"`
}

type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int64
	RetryAfter time.Duration
}
