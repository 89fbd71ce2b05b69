package service

import (
	"context"
	"time"

	"github.com/rryowa/finance-auth/internal/models"
)

// BucketStore performs one atomic refill-and-take on the bucket at key.
type BucketStore interface {
	Take(ctx context.Context, key string, capacity int, window time.Duration, now time.Time) (models.RateLimitDecision, error)
}

type PasswordHasher interface {
	Hash(raw string) (string, error)
	Verify(raw, digest string) bool
}

// IdentityProvider is an external OAuth2 provider.
type IdentityProvider interface {
	AuthCodeURL(state, codeVerifier string) string
	Exchange(ctx context.Context, code, codeVerifier string) (*models.OAuthProfile, error)
}

type SecurityAlerter interface {
	NotifyTokenReuse(ctx context.Context, event TokenReuseEvent)
}
