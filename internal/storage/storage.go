package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rryowa/finance-auth/internal/models"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserAlreadyExists    = errors.New("user already exists")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrOAuthStateNotFound   = errors.New("oauth state not found")
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Storage interface {
	UserRepository
	RefreshTokenStore
}

// UserRepository is the credential store. Email lookups ignore case.
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// RefreshTokenTx is the set of operations available inside one refresh-token
// transaction. Every mutation of a user's tokens happens after LockUser.
type RefreshTokenTx interface {
	LockUser(ctx context.Context, userID uuid.UUID) error
	FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	FindByHashForUpdate(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, id int64, now time.Time) error
	Delete(ctx context.Context, id int64) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	Create(ctx context.Context, token *models.RefreshToken) error
}

type RefreshTokenStore interface {
	// WithinTx runs fn atomically. A non-nil error from fn discards its writes.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx RefreshTokenTx) error) error
	// RevokeByHash revokes an unrevoked token and reports whether it did.
	RevokeByHash(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type OAuthStateStore interface {
	SaveState(ctx context.Context, state models.OAuthState, ttl time.Duration) error
	// ConsumeState returns and deletes the state; it can be consumed once.
	ConsumeState(ctx context.Context, state string) (*models.OAuthState, error)
}
