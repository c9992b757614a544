// Package redis holds the Redis-backed session store for checkout state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/amingione/fas-checkout/pkg/errors"

	"github.com/amingione/fas-checkout/internal/domain"
)

const sessionKeyPrefix = "checkout:session:"

// SessionStore implements repository.SessionStore on Redis. Session state is
// stored as JSON under a TTL so abandoned checkouts expire on their own.
type SessionStore struct {
	client *redis.Client
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

// Save writes the session state, resetting the TTL.
func (s *SessionStore) Save(ctx context.Context, sessionID string, state domain.CheckoutState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkout state: %w", err)
	}

	if err := s.client.Set(ctx, sessionKeyPrefix+sessionID, data, ttl).Err(); err != nil {
		return fmt.Errorf("save checkout session %s: %w", sessionID, err)
	}
	return nil
}

// Get loads the session state.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (domain.CheckoutState, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CheckoutState{}, apperrors.NotFound("checkout session", sessionID)
		}
		return domain.CheckoutState{}, fmt.Errorf("load checkout session %s: %w", sessionID, err)
	}

	var state domain.CheckoutState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.CheckoutState{}, fmt.Errorf("unmarshal checkout state: %w", err)
	}
	return state, nil
}
