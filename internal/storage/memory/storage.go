package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rryowa/finance-auth/internal/models"
	"github.com/rryowa/finance-auth/internal/storage"
)

// Storage keeps users and refresh tokens in process memory. A single mutex
// guards both maps and is held for the whole of WithinTx.
type Storage struct {
	mu      sync.Mutex
	users   map[uuid.UUID]models.User
	byEmail map[string]uuid.UUID
	tokens  map[string]*models.RefreshToken
	nextID  int64
	log     *zap.SugaredLogger
}

func NewStorage(log *zap.SugaredLogger) *Storage {
	return &Storage{
		users:   make(map[uuid.UUID]models.User),
		byEmail: make(map[string]uuid.UUID),
		tokens:  make(map[string]*models.RefreshToken),
		log:     log,
	}
}

func (s *Storage) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Email)
	if _, ok := s.byEmail[key]; ok {
		return storage.ErrUserAlreadyExists
	}
	s.users[user.ID] = *user
	s.byEmail[key] = user.ID
	s.log.Debugw("User created", "userID", user.ID)
	return nil
}

func (s *Storage) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	user := s.users[id]
	return &user, nil
}

func (s *Storage) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return &user, nil
}

func (s *Storage) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.byEmail[strings.ToLower(email)]
	return ok, nil
}

// WithinTx snapshots the token table and restores it if fn fails.
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.RefreshTokenTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]models.RefreshToken, len(s.tokens))
	for k, v := range s.tokens {
		snapshot[k] = *v
	}
	nextID := s.nextID

	if err := fn(ctx, &tokenTx{s: s}); err != nil {
		s.tokens = make(map[string]*models.RefreshToken, len(snapshot))
		for k, v := range snapshot {
			s.tokens[k] = &v
		}
		s.nextID = nextID
		return err
	}
	return nil
}

func (s *Storage) RevokeByHash(_ context.Context, tokenHash string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenHash]
	if !ok || t.Revoked {
		return false, nil
	}
	t.Revoked = true
	t.UpdatedAt = now
	return true, nil
}

func (s *Storage) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, t := range s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(s.tokens, hash)
			n++
		}
	}
	return n, nil
}

// tokenTx operates on the maps directly; the caller holds s.mu.
type tokenTx struct {
	s *Storage
}

// LockUser is a no-op: the whole transaction already runs under s.mu.
func (tx *tokenTx) LockUser(context.Context, uuid.UUID) error { return nil }

func (tx *tokenTx) FindByHash(_ context.Context, tokenHash string) (*models.RefreshToken, error) {
	t, ok := tx.s.tokens[tokenHash]
	if !ok {
		return nil, storage.ErrRefreshTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (tx *tokenTx) FindByHashForUpdate(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	return tx.FindByHash(ctx, tokenHash)
}

func (tx *tokenTx) Revoke(_ context.Context, id int64, now time.Time) error {
	for _, t := range tx.s.tokens {
		if t.ID == id {
			t.Revoked = true
			t.UpdatedAt = now
			return nil
		}
	}
	return nil
}

func (tx *tokenTx) Delete(_ context.Context, id int64) error {
	for hash, t := range tx.s.tokens {
		if t.ID == id {
			delete(tx.s.tokens, hash)
			return nil
		}
	}
	return nil
}

func (tx *tokenTx) RevokeAllForUser(_ context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	var n int64
	for _, t := range tx.s.tokens {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			t.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (tx *tokenTx) Create(_ context.Context, token *models.RefreshToken) error {
	tx.s.nextID++
	token.ID = tx.s.nextID
	cp := *token
	cp.Token = ""
	tx.s.tokens[token.TokenHash] = &cp
	return nil
}
