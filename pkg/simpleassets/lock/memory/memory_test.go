package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-assets/pkg/simpleassets/lock/memory"
)

func TestMemoryLock(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}
	backend := memory.NewWithClock(clock)

	ok, err := backend.TryAcquire(ctx, "k", "a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = backend.TryAcquire(ctx, "k", "b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "held by a")

	ok, err = backend.TryAcquire(ctx, "other", "b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "distinct keys are independent")

	require.NoError(t, backend.Release(ctx, "k", "b"))
	assert.True(t, backend.Held("k"), "wrong token does not release")

	advance(2 * time.Second)
	assert.False(t, backend.Held("k"))
	ok, err = backend.TryAcquire(ctx, "k", "b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock can be taken over")

	require.NoError(t, backend.Release(ctx, "k", "a"), "stale holder release is a no-op")
	assert.True(t, backend.Held("k"))

	require.NoError(t, backend.Release(ctx, "k", "b"))
	assert.False(t, backend.Held("k"))
}

func TestMemoryLockCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := memory.New().TryAcquire(ctx, "k", "a", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryLockExtend(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	backend := memory.NewWithClock(func() time.Time { return now })

	ok, err := backend.TryAcquire(ctx, "k", "a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(900 * time.Millisecond)
	ok, err = backend.Extend(ctx, "k", "a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = backend.Extend(ctx, "k", "b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "only the holder extends")

	now = now.Add(900 * time.Millisecond)
	assert.True(t, backend.Held("k"), "extension moved the expiry")

	now = now.Add(time.Second)
	ok, err = backend.Extend(ctx, "k", "a", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "an expired key cannot be revived")
}
