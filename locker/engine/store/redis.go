package store

import (
	"context"
	"errors"
	"sync"

	"github.com/bsm/redislock"

	"github.com/git-hulk/redlocker/locker/engine"
)

// RedisMutex implements engine.Mutex on top of redislock, whose obtain,
// refresh and release commands run as server-side Lua scripts. Obtaining
// with a fixed token is atomic set-if-absent-or-refresh-if-own-token, which
// is exactly the acquire step this protocol needs.
type RedisMutex struct {
	client *redislock.Client

	// rwmu is used to protect lock field
	rwmu sync.RWMutex
	lock *redislock.Lock

	token string
	key   string
}

// NewRedisMutex creates a new RedisMutex instance bound to token and key.
func NewRedisMutex(client *redislock.Client, token, key string) *RedisMutex {
	return &RedisMutex{
		client: client,
		token:  token,
		key:    key,
	}
}

// Token returns the session token of the Redis mutex.
func (mu *RedisMutex) Token() string {
	return mu.token
}

// Key returns the store key of the Redis mutex.
func (mu *RedisMutex) Key() string {
	return mu.key
}

// IsLocked returns true if the Redis mutex is locked.
func (mu *RedisMutex) IsLocked() bool {
	mu.rwmu.RLock()
	defer mu.rwmu.RUnlock()
	return mu.lock != nil
}

// TryLock makes a single attempt to obtain the Redis lock with this mutex's
// token, it will return ErrLockHeld if the key is held by another token.
// Re-acquiring a key that already carries this token refreshes its expiry
// instead of failing.
func (mu *RedisMutex) TryLock(ctx context.Context) error {
	lock, err := mu.client.Obtain(ctx, mu.key, engine.LockTTL, &redislock.Options{
		Token: mu.token,
		// No retry strategy, the session runs its own poll loop
		RetryStrategy: redislock.NoRetry(),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return engine.ErrLockHeld
		}
		return err
	}

	mu.rwmu.Lock()
	defer mu.rwmu.Unlock()
	mu.lock = lock
	return nil
}

// Refresh pushes the key's expiry back out to the lock TTL. It will return
// ErrNotLockHolder if the lock is no longer held by this token.
func (mu *RedisMutex) Refresh(ctx context.Context) error {
	mu.rwmu.RLock()
	lock := mu.lock
	mu.rwmu.RUnlock()
	if lock == nil {
		return engine.ErrNotLockHolder
	}
	if err := lock.Refresh(ctx, engine.LockTTL, nil); err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, redislock.ErrLockNotHeld) {
			return engine.ErrNotLockHolder
		}
		return err
	}
	return nil
}

// Release deletes the key only if it still carries this mutex's token. It
// will return ErrNotLockHolder if the lock is not held or was re-acquired
// by someone else after expiring.
func (mu *RedisMutex) Release(ctx context.Context) error {
	mu.rwmu.Lock()

	if mu.lock == nil {
		mu.rwmu.Unlock()
		return engine.ErrNotLockHolder
	}
	lock := mu.lock
	mu.lock = nil
	mu.rwmu.Unlock()

	if err := lock.Release(ctx); err != nil {
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return engine.ErrNotLockHolder
		}
		return err
	}
	return nil
}

// RedisEngine implements engine.MutexFactory for a Redis backend.
type RedisEngine struct {
	client *redislock.Client
}

// NewRedisEngine wraps a go-redis compatible client into a mutex factory.
func NewRedisEngine(c redislock.RedisClient) *RedisEngine {
	return &RedisEngine{client: redislock.New(c)}
}

// Create creates a Redis mutex for the given token and key.
func (r *RedisEngine) Create(token, key string) engine.Mutex {
	return NewRedisMutex(r.client, token, key)
}
