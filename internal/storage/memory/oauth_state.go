package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rryowa/finance-auth/internal/models"
	"github.com/rryowa/finance-auth/internal/storage"
)

type oauthStateEntry struct {
	state     models.OAuthState
	expiresAt time.Time
}

type OAuthStateStore struct {
	mu     sync.Mutex
	states map[string]oauthStateEntry
	clock  func() time.Time
}

func NewOAuthStateStore(clock func() time.Time) *OAuthStateStore {
	if clock == nil {
		clock = time.Now
	}
	return &OAuthStateStore{
		states: make(map[string]oauthStateEntry),
		clock:  clock,
	}
}

func (m *OAuthStateStore) SaveState(_ context.Context, state models.OAuthState, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	for k, e := range m.states {
		if !e.expiresAt.After(now) {
			delete(m.states, k)
		}
	}
	m.states[state.State] = oauthStateEntry{state: state, expiresAt: now.Add(ttl)}
	return nil
}

func (m *OAuthStateStore) ConsumeState(_ context.Context, state string) (*models.OAuthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.states[state]
	if !ok {
		return nil, storage.ErrOAuthStateNotFound
	}
	delete(m.states, state)
	if !e.expiresAt.After(m.clock()) {
		return nil, storage.ErrOAuthStateNotFound
	}
	return &e.state, nil
}
