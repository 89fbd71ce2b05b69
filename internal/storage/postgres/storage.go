package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rryowa/finance-auth/internal/storage"
)

type Storage struct {
	db *sql.DB
	*UserRepository
	tokens *RefreshTokenRepository
}

func NewStorage(db *sql.DB) *Storage {
	return &Storage{
		db:             db,
		UserRepository: NewUserRepository(db),
		tokens:         NewRefreshTokenRepository(db),
	}
}

// WithinTx runs fn against a refresh-token repository bound to a single
// transaction. The transaction is committed only if fn returns nil.
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.RefreshTokenTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(ctx, NewRefreshTokenRepository(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Storage) RevokeByHash(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	return s.tokens.RevokeByHash(ctx, tokenHash, now)
}

func (s *Storage) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return s.tokens.DeleteExpired(ctx, before)
}
