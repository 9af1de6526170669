package simpleassets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LockOptions bounds a lock acquisition. The total wait is roughly
// MaxRetries * RetryDelay; TTL lets a lock abandoned by a crashed holder expire.
//
// Refresh, when positive and supported by the backend (LockExtender), renews
// the TTL at that interval until the handle is released so a slow upload does
// not outlive its lock.
type LockOptions struct {
	TTL        time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Refresh    time.Duration
}

// DefaultLockOptions returns a 20s TTL polled every 100ms for 190 retries,
// renewed every third of the TTL.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		TTL:        20 * time.Second,
		MaxRetries: 190,
		RetryDelay: 100 * time.Millisecond,
		Refresh:    20 * time.Second / 3,
	}
}

// LockKey derives the lock key that linearizes mutations for owner.
func LockKey(owner OwnerRef) string {
	return fmt.Sprintf("assets:create:%s:%s:lock", owner.Type, owner.ID)
}

// LockCoordinator hands out owner-scoped locks on top of a LockBackend.
type LockCoordinator struct {
	backend LockBackend
}

// NewLockCoordinator wraps backend.
func NewLockCoordinator(backend LockBackend) *LockCoordinator {
	return &LockCoordinator{backend: backend}
}

// Acquire polls the backend at a fixed interval until the key is obtained.
// After the first attempt plus opts.MaxRetries retries it returns a *LockError
// that matches ErrLockAcquisition.
func (c *LockCoordinator) Acquire(ctx context.Context, key string, opts LockOptions) (*LockHandle, error) {
	token := uuid.NewString()
	start := time.Now()

	policy := FixedRetry(opts.MaxRetries+1, opts.RetryDelay)
	attempts := 0
	err := policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		ok, err := c.backend.TryAcquire(ctx, key, token, opts.TTL)
		if err != nil {
			return err
		}
		if !ok {
			return ErrLockHeld
		}
		return nil
	})
	if err != nil {
		var re *RetryError
		if errors.As(err, &re) {
			err = re.Err
		}
		return nil, &LockError{Key: key, Op: "acquire", Attempts: attempts, Err: err}
	}

	h := &LockHandle{
		key:      key,
		token:    token,
		backend:  c.backend,
		Attempts: attempts,
		Waited:   time.Since(start),
	}
	if ext, ok := c.backend.(LockExtender); ok && opts.Refresh > 0 && opts.TTL > 0 {
		h.stop = make(chan struct{})
		h.done = make(chan struct{})
		go h.keepAlive(ext, opts.TTL, opts.Refresh)
	}
	return h, nil
}

// LockHandle is a held lock. Release is safe to call more than once.
type LockHandle struct {
	key     string
	token   string
	backend LockBackend

	// Attempts is how many tries the acquisition took.
	Attempts int
	// Waited is the time spent acquiring.
	Waited time.Duration

	mu       sync.Mutex
	released bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	renewals int
}

// keepAlive renews the TTL until stop is closed or the key is lost.
func (h *LockHandle) keepAlive(ext LockExtender, ttl, every time.Duration) {
	defer close(h.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			ok, err := ext.Extend(ctx, h.key, h.token, ttl)
			cancel()
			if err != nil {
				continue
			}
			if !ok {
				return
			}
			h.mu.Lock()
			h.renewals++
			h.mu.Unlock()
		}
	}
}

// Renewals returns how many times the TTL was refreshed.
func (h *LockHandle) Renewals() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.renewals
}

func (h *LockHandle) stopKeepAlive() {
	if h.stop == nil {
		return
	}
	h.stopOnce.Do(func() {
		close(h.stop)
		<-h.done
	})
}

// Key returns the locked key.
func (h *LockHandle) Key() string { return h.key }

// Release gives the lock up. Releasing an already released or expired handle
// returns nil; a backend failure yields a *LockError matching ErrLockRelease.
func (h *LockHandle) Release(ctx context.Context) error {
	h.stopKeepAlive()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	if err := h.backend.Release(ctx, h.key, h.token); err != nil {
		return &LockError{Key: h.key, Op: "release", Attempts: 1, Err: err}
	}
	h.released = true
	return nil
}
