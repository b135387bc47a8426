package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mossfield/farmstead/internal/apperror"
)

const sessionKeyPrefix = "session:"

// SessionStore persists sessions keyed by opaque token.
type SessionStore interface {
	// Create stores the session under a freshly generated token and
	// returns the token.
	Create(ctx context.Context, session *Session) (string, error)

	// Get returns the session for a token, or an unauthorized error when
	// the token is unknown or expired.
	Get(ctx context.Context, token string) (*Session, error)

	// Update rewrites the session value without touching its TTL, so
	// mutating the change-password challenge never extends the session.
	Update(ctx context.Context, token string, session *Session) error

	// Destroy removes the session. Destroying an unknown token is not an
	// error.
	Destroy(ctx context.Context, token string) error
}

type redisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore creates a Redis-backed session store with the given
// session lifetime.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) SessionStore {
	return &redisSessionStore{client: client, ttl: ttl}
}

func (s *redisSessionStore) Create(ctx context.Context, session *Session) (string, error) {
	token, err := generateSessionToken()
	if err != nil {
		return "", apperror.NewInternal(err)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return "", apperror.NewInternal(fmt.Errorf("marshaling session: %w", err))
	}

	if err := s.client.Set(ctx, sessionKeyPrefix+token, data, s.ttl).Err(); err != nil {
		return "", apperror.NewInternal(fmt.Errorf("storing session: %w", err))
	}
	return token, nil
}

func (s *redisSessionStore) Get(ctx context.Context, token string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperror.NewUnauthorized("session expired or invalid")
	}
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("loading session: %w", err))
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("unmarshaling session: %w", err))
	}
	return &session, nil
}

func (s *redisSessionStore) Update(ctx context.Context, token string, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("marshaling session: %w", err))
	}

	// KeepTTL rewrites the value in place. A session that does not exist
	// anymore must not be resurrected without an expiry, so check first.
	key := sessionKeyPrefix + token
	ok, err := s.client.SetXX(ctx, key, data, redis.KeepTTL).Result()
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("updating session: %w", err))
	}
	if !ok {
		return apperror.NewUnauthorized("session expired or invalid")
	}
	return nil
}

func (s *redisSessionStore) Destroy(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return apperror.NewInternal(fmt.Errorf("destroying session: %w", err))
	}
	return nil
}
