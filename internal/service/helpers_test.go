package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rryowa/finance-auth/internal/models"
	"github.com/rryowa/finance-auth/internal/storage"
	"github.com/rryowa/finance-auth/internal/storage/memory"
	"github.com/rryowa/finance-auth/internal/util"
)

const testSecret = "0123456789abcdef0123456789abcdef-test"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []TokenReuseEvent
}

func (a *recordingAlerter) NotifyTokenReuse(_ context.Context, event TokenReuseEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *recordingAlerter) Events() []TokenReuseEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]TokenReuseEvent, len(a.events))
	copy(out, a.events)
	return out
}

// countingHasher records how many hashes and comparisons ran.
type countingHasher struct {
	PasswordHasher
	mu       sync.Mutex
	hashes   int
	verifies int
}

func (h *countingHasher) Hash(raw string) (string, error) {
	h.mu.Lock()
	h.hashes++
	h.mu.Unlock()
	return h.PasswordHasher.Hash(raw)
}

func (h *countingHasher) Hashes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hashes
}

func (h *countingHasher) Verify(raw, digest string) bool {
	h.mu.Lock()
	h.verifies++
	h.mu.Unlock()
	return h.PasswordHasher.Verify(raw, digest)
}

func (h *countingHasher) Verifies() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifies
}

func testTokenConfig() *util.TokenConfig {
	return &util.TokenConfig{
		JwtSecretKey:  testSecret,
		Issuer:        "finance-auth",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		SweepInterval: time.Hour,
	}
}

type testEnv struct {
	clock   *fakeClock
	store   *memory.Storage
	alerter *recordingAlerter
	hasher  *countingHasher
	signer  *TokenSigner
	refresh *RefreshTokenManager
	auth    *AuthService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := zap.NewNop().Sugar()
	clock := newFakeClock()
	cfg := testTokenConfig()

	signer, err := NewTokenSigner(cfg, clock.Now)
	require.NoError(t, err)

	bcryptHasher, err := NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	hasher := &countingHasher{PasswordHasher: bcryptHasher}

	store := memory.NewStorage(log)
	alerter := &recordingAlerter{}
	refresh := NewRefreshTokenManager(store, cfg, alerter, clock.Now, log)

	auth, err := NewAuthService(store, hasher, signer, refresh, clock.Now, log)
	require.NoError(t, err)

	return &testEnv{
		clock:   clock,
		store:   store,
		alerter: alerter,
		hasher:  hasher,
		signer:  signer,
		refresh: refresh,
		auth:    auth,
	}
}

// lookup reads the stored record behind a plaintext token.
func lookup(t *testing.T, store storage.RefreshTokenStore, token string) *models.RefreshToken {
	t.Helper()

	var found *models.RefreshToken
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx storage.RefreshTokenTx) error {
		var err error
		found, err = tx.FindByHash(ctx, HashToken(token))
		return err
	})
	require.NoError(t, err)
	return found
}

func requireRefreshFailure(t *testing.T, err error, reason RefreshFailureReason) {
	t.Helper()

	require.ErrorIs(t, err, ErrRefreshTokenInvalid)
	var rtErr *RefreshTokenError
	require.ErrorAs(t, err, &rtErr)
	require.Equal(t, reason, rtErr.Reason)
}
