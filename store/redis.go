package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using Redis.
// Credentials live in a single hash so Put stays atomic, and the advisory
// refresh lock is a plain key with Redis's native TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisConfig contains configuration options for Redis.
type RedisConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string

	// Password is the Redis password (empty for no auth)
	Password string

	// DB is the Redis database number (0-15)
	DB int

	// KeyPrefix is prepended to all keys (default: "bifrost:").
	// Typically ends with a colon.
	KeyPrefix string
}

// NewRedis creates a new Redis credential store from an existing client
// and a key prefix. prefix typically ends with a colon.
func NewRedis(client *redis.Client, keyPrefix string) (*RedisStore, error) {
	return &RedisStore{
		client: client,
		prefix: keyPrefix,
	}, nil
}

// NewRedisFromConfig creates a new Redis credential store.
func NewRedisFromConfig(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: failed to connect: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "bifrost:"
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
	}, nil
}

func (s *RedisStore) credentialsKey() string { return s.prefix + "credentials" }
func (s *RedisStore) lockKey() string        { return s.prefix + keyRefreshLock }

// Put persists the credentials and clears any refresh lock in one
// transactional pipeline.
func (s *RedisStore) Put(c *Credentials) error {
	ctx := context.Background()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.credentialsKey())
	pipe.HSet(ctx, s.credentialsKey(),
		keyToken, c.Token,
		keyTokenType, c.TokenType,
		keyPrincipal, string(c.Principal),
		keyIssuedAt, encodeMillis(c.IssuedAt),
		keyExpiresAt, encodeMillis(c.ExpiresAt),
		keyRefreshDue, encodeMillis(c.RefreshDueAt),
	)
	pipe.Del(ctx, s.lockKey())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to put credentials: %w", err)
	}
	return nil
}

// Get returns the stored credentials, or nil if signed out.
func (s *RedisStore) Get() (*Credentials, error) {
	ctx := context.Background()

	values, err := s.client.HGetAll(ctx, s.credentialsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read credentials: %w", err)
	}
	return credentialsFromValues(values)
}

// PutPrincipal replaces the serialized principal.
func (s *RedisStore) PutPrincipal(raw []byte) error {
	ctx := context.Background()

	if err := s.client.HSet(ctx, s.credentialsKey(), keyPrincipal, string(raw)).Err(); err != nil {
		return fmt.Errorf("redis: failed to write principal: %w", err)
	}
	return nil
}

// Principal returns the serialized principal, or nil if absent.
func (s *RedisStore) Principal() ([]byte, error) {
	ctx := context.Background()

	value, err := s.client.HGet(ctx, s.credentialsKey(), keyPrincipal).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read principal: %w", err)
	}
	return []byte(value), nil
}

// Clear removes all credential and lock state.
func (s *RedisStore) Clear() error {
	ctx := context.Background()

	if err := s.client.Del(ctx, s.credentialsKey(), s.lockKey()).Err(); err != nil {
		return fmt.Errorf("redis: failed to clear credentials: %w", err)
	}
	return nil
}

// AcquireRefreshLock records a refresh lock using Redis's native TTL.
func (s *RedisStore) AcquireRefreshLock(ttl time.Duration) error {
	ctx := context.Background()

	if err := s.client.Set(ctx, s.lockKey(), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to acquire lock: %w", err)
	}
	return nil
}

// RefreshLockHeld reports whether a refresh lock is present. Redis expires
// the key itself, so presence implies freshness.
func (s *RedisStore) RefreshLockHeld() (bool, error) {
	ctx := context.Background()

	n, err := s.client.Exists(ctx, s.lockKey()).Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to read lock: %w", err)
	}
	return n > 0, nil
}

// ReleaseRefreshLock removes the refresh lock.
func (s *RedisStore) ReleaseRefreshLock() error {
	ctx := context.Background()

	if err := s.client.Del(ctx, s.lockKey()).Err(); err != nil {
		return fmt.Errorf("redis: failed to release lock: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
