package memory

import (
	"context"
	"sync"
	"time"
)

// Backend is an in-process simpleassets.LockBackend. Expired entries are
// treated as free, mirroring a TTL'd key in Redis.
type Backend struct {
	mu    sync.Mutex
	locks map[string]entry
	now   func() time.Time
}

type entry struct {
	token   string
	expires time.Time
}

// New creates an empty lock table
func New() *Backend {
	return &Backend{locks: make(map[string]entry), now: time.Now}
}

// NewWithClock creates a lock table driven by now, for TTL tests
func NewWithClock(now func() time.Time) *Backend {
	return &Backend{locks: make(map[string]entry), now: now}
}

func (b *Backend) TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if e, held := b.locks[key]; held && now.Before(e.expires) {
		return false, nil
	}
	b.locks[key] = entry{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (b *Backend) Release(ctx context.Context, key, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, held := b.locks[key]; held && e.token == token {
		delete(b.locks, key)
	}
	return nil
}

// Extend pushes out the expiry of a key still held by token
func (b *Backend) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	e, held := b.locks[key]
	if !held || e.token != token || !now.Before(e.expires) {
		return false, nil
	}
	b.locks[key] = entry{token: token, expires: now.Add(ttl)}
	return true, nil
}

// Held reports whether key is currently locked
func (b *Backend) Held(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, held := b.locks[key]
	return held && b.now().Before(e.expires)
}
