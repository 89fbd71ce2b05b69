package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rryowa/finance-auth/internal/models"
	"github.com/rryowa/finance-auth/internal/storage"
)

const oauthStateKeyPrefix = "oauth:state:"

type OAuthStateStore struct {
	client redis.UniversalClient
}

func NewOAuthStateStore(client redis.UniversalClient) *OAuthStateStore {
	return &OAuthStateStore{client: client}
}

func (s *OAuthStateStore) SaveState(ctx context.Context, state models.OAuthState, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal oauth state: %w", err)
	}
	if err := s.client.Set(ctx, oauthStateKeyPrefix+state.State, payload, ttl).Err(); err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	return nil
}

// ConsumeState uses GETDEL so a state value is accepted at most once.
func (s *OAuthStateStore) ConsumeState(ctx context.Context, state string) (*models.OAuthState, error) {
	raw, err := s.client.GetDel(ctx, oauthStateKeyPrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrOAuthStateNotFound
	} else if err != nil {
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}

	var out models.OAuthState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal oauth state: %w", err)
	}
	return &out, nil
}
