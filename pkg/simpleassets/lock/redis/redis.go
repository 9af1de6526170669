package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds the caller's token.
// KEYS[1] = lock key
// ARGV[1] = token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out while the caller still holds the key.
// KEYS[1] = lock key
// ARGV[1] = token
// ARGV[2] = ttl in milliseconds
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Backend implements simpleassets.LockBackend on a single Redis primary.
type Backend struct {
	client redis.UniversalClient
}

// New wraps an existing client
func New(client redis.UniversalClient) *Backend {
	return &Backend{client: client}
}

// NewFromURL dials redis://[:password@]host:port/db
func NewFromURL(url string) (*Backend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return New(redis.NewClient(opts)), nil
}

// Client exposes the underlying client so other components can share it
func (b *Backend) Client() redis.UniversalClient {
	return b.client
}

// TryAcquire sets key to token with NX and a millisecond TTL
func (b *Backend) TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock acquire %s: %w", key, err)
	}
	return ok, nil
}

// Release runs the compare-and-delete script. A key that expired or moved to
// another holder is left alone.
func (b *Backend) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, b.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("redis lock release %s: %w", key, err)
	}
	return nil
}

// Extend refreshes the TTL of a held lock. It reports false when the token no
// longer owns the key.
func (b *Backend) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, b.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis lock extend %s: %w", key, err)
	}
	return n == 1, nil
}

// Ping checks connectivity
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the client
func (b *Backend) Close() error {
	return b.client.Close()
}
