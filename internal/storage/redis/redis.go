// Package redis persists cart snapshots in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

const defaultKeyPrefix = "cartsync:"

// Storage implements storage.Storage using Redis strings with a TTL.
type Storage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	slowThreshold time.Duration
	logger        *slog.Logger
}

// Option customizes a Storage.
type Option func(*Storage)

// WithKeyPrefix namespaces every key, e.g. per device or per user.
func WithKeyPrefix(prefix string) Option {
	return func(s *Storage) { s.prefix = prefix }
}

// New creates a Redis-backed store. A ttl of zero keeps keys forever.
func New(client *redis.Client, ttl time.Duration, opts ...Option) *Storage {
	s := &Storage{
		client: client,
		prefix: defaultKeyPrefix,
		ttl:    ttl,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) key(name string) string {
	return s.prefix + name
}

// Get retrieves the value under key.
func (s *Storage) Get(ctx context.Context, key string) (data []byte, err error) {
	ctx, end := s.traceOp(ctx, "GET", key)
	defer func() { end(err) }()

	data, err = s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("storage key", key)
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Set stores value under key and refreshes the TTL.
func (s *Storage) Set(ctx context.Context, key string, value []byte) (err error) {
	ctx, end := s.traceOp(ctx, "SET", key)
	defer func() { end(err) }()

	if err = s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Storage) Delete(ctx context.Context, key string) (err error) {
	ctx, end := s.traceOp(ctx, "DEL", key)
	defer func() { end(err) }()

	if err = s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
