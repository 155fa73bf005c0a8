// Package state wraps the shared Redis instance behind the small set of
// operations the relay needs: FCFS claims, message mappings, and the job
// stream.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// Store is a thin facade over one Redis client. Safe for concurrent use.
type Store struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection with a ping.
func New(opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

// Claim attempts an atomic first-claim of key (SET NX with TTL). It returns
// true when this caller won the claim. If Redis is unreachable the claim is
// treated as won: duplicate forwards are preferred over dropped messages.
func (s *Store) Claim(ctx context.Context, key, value string, ttl time.Duration) bool {
	won, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		slog.Error("claim store unreachable, failing open", "key", key, "error", err)
		return true
	}
	return won
}

// GetString reads a key, reporting whether it exists. Errors other than a
// missing key are logged and reported as absent.
func (s *Store) GetString(ctx context.Context, key string) (string, bool) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("state get failed", "key", key, "error", err)
		}
		return "", false
	}
	return v, true
}

// SetString writes a key with a TTL.
func (s *Store) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}
