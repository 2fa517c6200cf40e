// Package session stores collaboration sessions in Redis, keyed by token
// hash. A session is ephemeral - it exists per issued token and is never
// written to the primary database.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"formloom/api/internal/auth"

	"github.com/redis/go-redis/v9"
)

// Session identifies the user behind a collaboration token.
type Session struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// RedisStore implements session storage using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed session store.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: "collab:",
	}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "collab:",
	}
}

// key generates the Redis key for a token
func (s *RedisStore) key(token string) string {
	return s.prefix + auth.HashToken(token)
}

// Save stores a session for a token with expiration.
func (s *RedisStore) Save(ctx context.Context, token string, sess Session, expiresAt time.Time) error {
	jsonData, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = 24 * time.Hour // Default 1 day
	}

	if err := s.client.Set(ctx, s.key(token), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Resolve looks up the session behind a token. The second return is false
// when the token is unknown, expired or revoked; Redis errors are also
// reported as no session, since the connection gets rejected either way.
func (s *RedisStore) Resolve(ctx context.Context, token string) (Session, bool) {
	jsonData, err := s.client.Get(ctx, s.key(token)).Result()
	if err != nil {
		return Session{}, false
	}

	var sess Session
	if err := json.Unmarshal([]byte(jsonData), &sess); err != nil {
		return Session{}, false
	}
	if sess.UserID == "" {
		return Session{}, false
	}
	return sess, true
}

// Revoke deletes a session.
func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
