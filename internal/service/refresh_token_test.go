package service

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rryowa/finance-auth/internal/storage"
)

func TestRefreshTokenManager_Issue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	issued, err := env.refresh.Issue(ctx, userID)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(issued.Token)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
	assert.Equal(t, HashToken(issued.Token), issued.TokenHash)
	assert.NotEqual(t, issued.Token, issued.TokenHash)
	assert.True(t, issued.ExpiresAt.Equal(env.clock.Now().Add(7*24*time.Hour)))

	stored := lookup(t, env.store, issued.Token)
	assert.Empty(t, stored.Token, "plaintext must not be stored")
	assert.False(t, stored.Revoked)
	assert.Equal(t, userID, stored.UserID)
}

func TestRefreshTokenManager_IssueKeepsSingleChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	other := uuid.New()

	first, err := env.refresh.Issue(ctx, userID)
	require.NoError(t, err)
	otherToken, err := env.refresh.Issue(ctx, other)
	require.NoError(t, err)
	second, err := env.refresh.Issue(ctx, userID)
	require.NoError(t, err)

	assert.True(t, lookup(t, env.store, first.Token).Revoked)
	assert.False(t, lookup(t, env.store, second.Token).Revoked)
	assert.False(t, lookup(t, env.store, otherToken.Token).Revoked, "other users are untouched")
}

func TestRefreshTokenManager_Rotate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	current, err := env.refresh.Issue(ctx, userID)
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	next, err := env.refresh.Rotate(ctx, current.Token)
	require.NoError(t, err)

	assert.NotEqual(t, current.Token, next.Token)
	assert.Equal(t, userID, next.UserID)
	assert.True(t, next.ExpiresAt.Equal(env.clock.Now().Add(7*24*time.Hour)))
	assert.True(t, lookup(t, env.store, current.Token).Revoked)
	assert.False(t, lookup(t, env.store, next.Token).Revoked)
	assert.Empty(t, env.alerter.Events())
}

func TestRefreshTokenManager_RotateUnknown(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.refresh.Rotate(context.Background(), "does-not-exist")
	requireRefreshFailure(t, err, ReasonNotFound)

	_, err = env.refresh.Rotate(context.Background(), "")
	requireRefreshFailure(t, err, ReasonNotFound)
}

func TestRefreshTokenManager_RotateExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	current, err := env.refresh.Issue(ctx, uuid.New())
	require.NoError(t, err)

	env.clock.Advance(7*24*time.Hour + time.Second)
	_, err = env.refresh.Rotate(ctx, current.Token)
	requireRefreshFailure(t, err, ReasonExpired)

	// The expired record is gone and cannot be resurrected or mistaken for reuse.
	_, err = env.refresh.Rotate(ctx, current.Token)
	requireRefreshFailure(t, err, ReasonNotFound)
	assert.Empty(t, env.alerter.Events())
}

func TestRefreshTokenManager_ReuseRevokesChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	first, err := env.refresh.Issue(ctx, userID)
	require.NoError(t, err)
	second, err := env.refresh.Rotate(ctx, first.Token)
	require.NoError(t, err)

	_, err = env.refresh.Rotate(ctx, first.Token)
	requireRefreshFailure(t, err, ReasonRevoked)
	assert.True(t, lookup(t, env.store, second.Token).Revoked, "the live descendant is revoked")

	events := env.alerter.Events()
	require.Len(t, events, 1)
	assert.Equal(t, userID, events[0].UserID)
	assert.Equal(t, int64(1), events[0].RevokedTokens)

	_, err = env.refresh.Rotate(ctx, second.Token)
	requireRefreshFailure(t, err, ReasonRevoked)
}

func TestRefreshTokenManager_ErrorHidesToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.refresh.Issue(ctx, uuid.New())
	require.NoError(t, err)
	_, err = env.refresh.Rotate(ctx, first.Token)
	require.NoError(t, err)

	_, err = env.refresh.Rotate(ctx, first.Token)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), first.Token)
	assert.Equal(t, "invalid refresh token", err.Error())
}

func TestRefreshTokenManager_ConcurrentRotateHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	current, err := env.refresh.Issue(ctx, uuid.New())
	require.NoError(t, err)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.refresh.Rotate(ctx, current.Token)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if errors.Is(err, ErrRefreshTokenInvalid) {
				failures++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, failures)
}

func TestRefreshTokenManager_ConcurrentIssueLeavesOneActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	const workers = 20
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		tokens []string
	)
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			issued, err := env.refresh.Issue(ctx, userID)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			tokens = append(tokens, issued.Token)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, tokens, workers)
	active := 0
	for _, token := range tokens {
		if !lookup(t, env.store, token).Revoked {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestRefreshTokenManager_RevokeByValue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	current, err := env.refresh.Issue(ctx, uuid.New())
	require.NoError(t, err)

	require.NoError(t, env.refresh.RevokeByValue(ctx, current.Token))
	assert.True(t, lookup(t, env.store, current.Token).Revoked)

	require.NoError(t, env.refresh.RevokeByValue(ctx, current.Token), "second revoke is a no-op")
	require.NoError(t, env.refresh.RevokeByValue(ctx, "unknown"))
	require.NoError(t, env.refresh.RevokeByValue(ctx, ""))
}

func TestRefreshTokenManager_SweepExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	oldAlice, err := env.refresh.Issue(ctx, alice)
	require.NoError(t, err)
	_, err = env.refresh.Issue(ctx, bob)
	require.NoError(t, err)

	env.clock.Advance(7*24*time.Hour + time.Minute)
	fresh, err := env.refresh.Issue(ctx, alice)
	require.NoError(t, err)

	n, err := env.refresh.SweepExpired(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = env.refresh.Rotate(ctx, oldAlice.Token)
	requireRefreshFailure(t, err, ReasonNotFound)
	assert.False(t, lookup(t, env.store, fresh.Token).Revoked)
}

type failingTokenStore struct {
	storage.RefreshTokenStore
	err error
}

func (s failingTokenStore) WithinTx(context.Context, func(context.Context, storage.RefreshTokenTx) error) error {
	return s.err
}

func TestRefreshTokenManager_StoreFailureIsNotATokenError(t *testing.T) {
	boom := errors.New("connection refused")
	m := NewRefreshTokenManager(failingTokenStore{err: boom}, testTokenConfig(), &recordingAlerter{}, nil, zap.NewNop().Sugar())

	_, err := m.Rotate(context.Background(), "anything")
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrRefreshTokenInvalid)

	_, err = m.Issue(context.Background(), uuid.New())
	require.ErrorIs(t, err, boom)
}
