package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore keeps sessions in Redis with server-side TTL expiry. It is
// suitable for multi-replica deployments where Postgres is not available for
// session state.
type RedisSessionStore struct {
	client    *redis.Client
	keyPrefix string
}

type redisSessionPayload struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewRedisSessionStore connects to Redis using the provided URL
// (redis://host:port/db) and verifies connectivity before returning.
func NewRedisSessionStore(url string) (*RedisSessionStore, error) {
	if url == "" {
		return nil, fmt.Errorf("redis session url required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis session url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis session store: %w", err)
	}
	return &RedisSessionStore{client: client, keyPrefix: "session:"}, nil
}

// Close releases the Redis client resources.
func (s *RedisSessionStore) Close(context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisSessionStore) key(token string) string {
	return s.keyPrefix + token
}

// Save stores or updates the session token with a TTL matching its expiry.
func (s *RedisSessionStore) Save(token, username, role string, expiresAt time.Time) error {
	if s.client == nil {
		return fmt.Errorf("redis session client not configured")
	}
	payload, err := json.Marshal(redisSessionPayload{Username: username, Role: role, ExpiresAt: expiresAt.UTC()})
	if err != nil {
		return fmt.Errorf("encode session payload: %w", err)
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.client.Set(context.Background(), s.key(token), payload, ttl).Err()
}

// Get retrieves the session record for the provided token.
func (s *RedisSessionStore) Get(token string) (SessionRecord, bool, error) {
	if s.client == nil {
		return SessionRecord{}, false, fmt.Errorf("redis session client not configured")
	}
	raw, err := s.client.Get(context.Background(), s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return SessionRecord{}, false, nil
		}
		return SessionRecord{}, false, err
	}
	var payload redisSessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return SessionRecord{}, false, fmt.Errorf("decode session payload: %w", err)
	}
	return SessionRecord{
		Token:     token,
		Username:  payload.Username,
		Role:      payload.Role,
		ExpiresAt: payload.ExpiresAt,
	}, true, nil
}

// Delete removes the session token.
func (s *RedisSessionStore) Delete(token string) error {
	if s.client == nil {
		return fmt.Errorf("redis session client not configured")
	}
	return s.client.Del(context.Background(), s.key(token)).Err()
}

// PurgeExpired is a no-op; Redis evicts expired keys via their TTL.
func (s *RedisSessionStore) PurgeExpired(time.Time) error {
	return nil
}

// Ping verifies connectivity to Redis.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis session client not configured")
	}
	return s.client.Ping(ctx).Err()
}
