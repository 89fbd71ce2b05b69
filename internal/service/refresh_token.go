package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rryowa/finance-auth/internal/models"
	"github.com/rryowa/finance-auth/internal/storage"
	"github.com/rryowa/finance-auth/internal/util"
)

// RefreshTokenManager owns the refresh-token rotation state machine.
//
// A token is ACTIVE until it is rotated, revoked by logout or reuse
// detection, or expires. Every non-active state is terminal and reported to
// callers as the same *RefreshTokenError.
type RefreshTokenManager struct {
	store   storage.RefreshTokenStore
	ttl     time.Duration
	clock   func() time.Time
	alerter SecurityAlerter
	log     *zap.SugaredLogger
}

func NewRefreshTokenManager(
	store storage.RefreshTokenStore,
	cfg *util.TokenConfig,
	alerter SecurityAlerter,
	clock func() time.Time,
	log *zap.SugaredLogger,
) *RefreshTokenManager {
	if clock == nil {
		clock = time.Now
	}
	return &RefreshTokenManager{
		store:   store,
		ttl:     cfg.RefreshTTL,
		clock:   clock,
		alerter: alerter,
		log:     log,
	}
}

// HashToken is the lookup key stored in place of the token value.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newTokenValue() (string, error) {
	raw := make([]byte, util.RawTokenLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Issue revokes every unrevoked token of the user and stores a new one.
// The returned record carries the plaintext Token.
func (m *RefreshTokenManager) Issue(ctx context.Context, userID uuid.UUID) (*models.RefreshToken, error) {
	var issued *models.RefreshToken
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx storage.RefreshTokenTx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		var err error
		issued, err = m.issueLocked(ctx, tx, userID, m.clock())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return issued, nil
}

func (m *RefreshTokenManager) issueLocked(
	ctx context.Context,
	tx storage.RefreshTokenTx,
	userID uuid.UUID,
	now time.Time,
) (*models.RefreshToken, error) {
	if _, err := tx.RevokeAllForUser(ctx, userID, now); err != nil {
		return nil, err
	}

	value, err := newTokenValue()
	if err != nil {
		return nil, err
	}
	token := &models.RefreshToken{
		Token:      value,
		TokenHash:  HashToken(value),
		UserID:     userID,
		ExpiresAt:  now.Add(m.ttl),
		Timestamps: models.NewTimestamps(now),
	}
	if err := tx.Create(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// Rotate exchanges a usable token for a new one. An expired token is deleted
// so it can never come back. Presenting a revoked, unexpired token revokes
// every token of its owner.
func (m *RefreshTokenManager) Rotate(ctx context.Context, presented string) (*models.RefreshToken, error) {
	if presented == "" {
		return nil, &RefreshTokenError{Reason: ReasonNotFound}
	}
	hash := HashToken(presented)

	var (
		issued  *models.RefreshToken
		reason  RefreshFailureReason
		owner   uuid.UUID
		revoked int64
		now     time.Time
	)
	err := m.store.WithinTx(ctx, func(ctx context.Context, tx storage.RefreshTokenTx) error {
		current, err := tx.FindByHash(ctx, hash)
		if errors.Is(err, storage.ErrRefreshTokenNotFound) {
			reason = ReasonNotFound
			return nil
		}
		if err != nil {
			return err
		}
		owner = current.UserID

		if err := tx.LockUser(ctx, owner); err != nil {
			return err
		}
		current, err = tx.FindByHashForUpdate(ctx, hash)
		if errors.Is(err, storage.ErrRefreshTokenNotFound) {
			reason = ReasonNotFound
			return nil
		}
		if err != nil {
			return err
		}

		now = m.clock()
		switch {
		case current.Expired(now):
			reason = ReasonExpired
			return tx.Delete(ctx, current.ID)
		case current.Revoked:
			reason = ReasonRevoked
			revoked, err = tx.RevokeAllForUser(ctx, owner, now)
			return err
		}

		if err := tx.Revoke(ctx, current.ID, now); err != nil {
			return err
		}
		issued, err = m.issueLocked(ctx, tx, owner, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	if reason != "" {
		if reason == ReasonRevoked {
			m.log.Warnw("refresh token reuse detected, sessions revoked", "reason", reason, "userID", owner, "revoked", revoked)
			m.alerter.NotifyTokenReuse(ctx, TokenReuseEvent{
				UserID:        owner,
				RevokedTokens: revoked,
				OccurredAt:    now,
			})
		} else {
			m.log.Infow("refresh token rejected", "reason", reason, "userID", owner)
		}
		return nil, &RefreshTokenError{Reason: reason}
	}
	return issued, nil
}

// RevokeByValue revokes the token if it is unrevoked. Unknown and already
// revoked tokens are not an error.
func (m *RefreshTokenManager) RevokeByValue(ctx context.Context, presented string) error {
	if presented == "" {
		return nil
	}
	ok, err := m.store.RevokeByHash(ctx, HashToken(presented), m.clock())
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if !ok {
		m.log.Debugw("logout with unknown or revoked refresh token")
	}
	return nil
}

// SweepExpired deletes every record that expired before now.
func (m *RefreshTokenManager) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := m.store.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired refresh tokens: %w", err)
	}
	return n, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done. Failures
// are logged and retried on the next tick.
func (m *RefreshTokenManager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.SweepExpired(ctx, m.clock())
			if err != nil {
				m.log.Errorw("refresh token sweep failed", "error", err)
				continue
			}
			if n > 0 {
				m.log.Infow("expired refresh tokens removed", "count", n)
			}
		}
	}
}
