package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/git-hulk/redlocker/locker/engine"
)

func newRedisEngine(t *testing.T) (*miniredis.Miniredis, *RedisEngine) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})
	return mr, NewRedisEngine(client)
}

func TestRedisMutexTryLock(t *testing.T) {
	mr, factory := newRedisEngine(t)
	ctx := context.Background()
	key := "redlocker:test-trylock"

	mu1 := factory.Create(uuid.NewString(), key)
	require.NoError(t, mu1.TryLock(ctx))
	require.True(t, mu1.IsLocked())
	got, err := mr.Get(key)
	require.NoError(t, err)
	require.Equal(t, mu1.Token(), got)
	require.Equal(t, engine.LockTTL, mr.TTL(key))

	mu2 := factory.Create(uuid.NewString(), key)
	require.ErrorIs(t, mu2.TryLock(ctx), engine.ErrLockHeld)
	require.False(t, mu2.IsLocked())

	require.NoError(t, mu1.Release(ctx))
}

func TestRedisMutexTryLockReentersOwnToken(t *testing.T) {
	mr, factory := newRedisEngine(t)
	ctx := context.Background()
	key := "redlocker:test-reenter"

	mu := factory.Create(uuid.NewString(), key)
	require.NoError(t, mu.TryLock(ctx))

	// A retry by the same session refreshes the expiry instead of failing.
	mr.FastForward(2 * time.Second)
	require.Equal(t, engine.LockTTL-2*time.Second, mr.TTL(key))
	require.NoError(t, mu.TryLock(ctx))
	require.Equal(t, engine.LockTTL, mr.TTL(key))

	require.NoError(t, mu.Release(ctx))
}

func TestRedisMutexRefresh(t *testing.T) {
	mr, factory := newRedisEngine(t)
	ctx := context.Background()
	key := "redlocker:test-refresh"

	mu := factory.Create(uuid.NewString(), key)
	require.NoError(t, mu.TryLock(ctx))

	mr.FastForward(3 * time.Second)
	require.NoError(t, mu.Refresh(ctx))
	require.Equal(t, engine.LockTTL, mr.TTL(key))

	// Once the record expires the refresh must report lost ownership.
	mr.FastForward(engine.LockTTL + time.Second)
	require.False(t, mr.Exists(key))
	require.ErrorIs(t, mu.Refresh(ctx), engine.ErrNotLockHolder)
}

func TestRedisMutexRefreshNotLocked(t *testing.T) {
	_, factory := newRedisEngine(t)
	ctx := context.Background()

	mu := factory.Create(uuid.NewString(), "redlocker:test-notlocked")
	require.ErrorIs(t, mu.Refresh(ctx), engine.ErrNotLockHolder)
}

func TestRedisMutexRelease(t *testing.T) {
	mr, factory := newRedisEngine(t)
	ctx := context.Background()
	key := "redlocker:test-release"

	mu := factory.Create(uuid.NewString(), key)
	require.NoError(t, mu.TryLock(ctx))
	require.NoError(t, mu.Release(ctx))
	require.False(t, mr.Exists(key))
	require.False(t, mu.IsLocked())

	require.ErrorIs(t, mu.Release(ctx), engine.ErrNotLockHolder)
}

func TestRedisMutexReleaseAfterTakeover(t *testing.T) {
	mr, factory := newRedisEngine(t)
	ctx := context.Background()
	key := "redlocker:test-takeover"

	mu1 := factory.Create(uuid.NewString(), key)
	require.NoError(t, mu1.TryLock(ctx))

	// mu1's record expires and a second session grabs the key. mu1 must
	// not be able to delete the new holder's record.
	mr.FastForward(engine.LockTTL + time.Second)
	mu2 := factory.Create(uuid.NewString(), key)
	require.NoError(t, mu2.TryLock(ctx))

	require.ErrorIs(t, mu1.Release(ctx), engine.ErrNotLockHolder)
	got, err := mr.Get(key)
	require.NoError(t, err)
	require.Equal(t, mu2.Token(), got)

	require.NoError(t, mu2.Release(ctx))
}
