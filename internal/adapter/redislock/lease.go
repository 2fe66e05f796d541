// Package redislock provides a single-holder lease on a Redis key so only
// one replica runs the approval sweeper at a time.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Compare-and-extend / compare-and-delete keep a holder from touching a
// lease that expired and was taken by another replica.
var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Lease is a TTL-bounded lock identified by a per-process token.
type Lease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

// NewFromURL connects to redisURL and returns a lease on key.
func NewFromURL(ctx context.Context, redisURL, key string, ttl time.Duration) (*Lease, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", "addr", opts.Addr, "lease_key", key)
	return New(client, key, ttl), nil
}

// New wraps an existing client.
func New(client *redis.Client, key string, ttl time.Duration) *Lease {
	return &Lease{client: client, key: key, ttl: ttl, token: uuid.NewString()}
}

// TryAcquire takes the lease or renews it when this process already holds
// it. It reports false when another holder owns the key.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease acquire: %w", err)
	}
	if ok {
		return true, nil
	}

	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("lease renew: %w", err)
	}
	return n == 1, nil
}

// Release drops the lease if this process still holds it.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lease release: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (l *Lease) Close() error {
	return l.client.Close()
}
