// Package locker provides a named, auto-renewed, expiring distributed lock
// backed by a shared key-value store, so that only one caller across any
// number of processes runs a protected block at a time per lock name.
package locker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/git-hulk/redlocker/locker/engine"
	"github.com/git-hulk/redlocker/locker/engine/store"
)

const (
	// keyPrefix namespaces every lock key in the store.
	keyPrefix = "redlocker"

	// DefaultPollDelay is the sleep between unsuccessful acquire attempts.
	DefaultPollDelay = 250 * time.Millisecond
)

type Option func(*Locker)

// WithNamespace prepends ns to every lock key created by the locker.
func WithNamespace(ns string) Option {
	return func(l *Locker) {
		l.namespace = ns
	}
}

// WithPollDelay overrides DefaultPollDelay for acquire polling.
func WithPollDelay(delay time.Duration) Option {
	return func(l *Locker) {
		l.delay = delay
	}
}

// Locker hands out named locks from one store backend. It is safe for
// concurrent use; every lock attempt runs its own session with a fresh
// random token.
type Locker struct {
	engine    engine.MutexFactory
	namespace string
	delay     time.Duration

	// sessions tracks locks currently held through this locker, keyed by
	// session token, so Close can release them on shutdown.
	sessions sync.Map
}

// New is used to create a Locker on top of a mutex factory.
func New(e engine.MutexFactory, opts ...Option) (*Locker, error) {
	if e == nil {
		return nil, errors.New("engine cannot be nil")
	}
	l := &Locker{
		engine: e,
		delay:  DefaultPollDelay,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.delay <= 0 {
		return nil, errors.New("poll delay must be positive")
	}
	return l, nil
}

// NewRedis creates a Locker backed by a Redis-compatible client.
func NewRedis(client redislock.RedisClient, opts ...Option) (*Locker, error) {
	return New(store.NewRedisEngine(client), opts...)
}

// NewEtcd creates a Locker backed by an etcd client.
func NewEtcd(client *clientv3.Client, opts ...Option) (*Locker, error) {
	return New(store.NewEtcdEngine(client), opts...)
}

func (l *Locker) key(name string) string {
	parts := make([]string, 0, 3)
	if l.namespace != "" {
		parts = append(parts, l.namespace)
	}
	parts = append(parts, keyPrefix, name)
	return strings.Join(parts, ":")
}

// Acquire obtains the named lock, polling until success or timeout. The
// returned Lock is kept alive by a background heartbeat until Release is
// called. It returns a *TimeoutError matching ErrLockTimeout if another
// holder retains the lock for the whole timeout window.
func (l *Locker) Acquire(ctx context.Context, name string, timeout time.Duration) (*Lock, error) {
	if name == "" {
		return nil, errors.New("lock name cannot be empty")
	}

	token := uuid.NewString()
	session := engine.NewLockSession(l.engine.Create(token, l.key(name)))
	if err := session.Acquire(ctx, timeout, l.delay); err != nil {
		var timeoutErr *engine.TimeoutError
		if errors.As(err, &timeoutErr) {
			timeoutErr.Name = name
		}
		return nil, err
	}

	l.sessions.Store(token, session)
	return &Lock{
		name:    name,
		token:   token,
		session: session,
		locker:  l,
	}, nil
}

// WithLock runs fn while holding the named lock and releases it when fn
// returns, whether fn succeeded or not. fn's error is returned to the
// caller after the release has run.
func (l *Locker) WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	lock, err := l.Acquire(ctx, name, timeout)
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	return fn(ctx)
}

// WithLock runs fn while l holds the named lock and returns fn's value,
// releasing the lock on every exit path.
func WithLock[T any](ctx context.Context, l *Locker, name string, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	lock, err := l.Acquire(ctx, name, timeout)
	if err != nil {
		var zero T
		return zero, err
	}
	defer lock.Release(ctx)

	return fn(ctx)
}

// Close releases every lock still held through this locker.
func (l *Locker) Close(ctx context.Context) error {
	l.sessions.Range(func(k, v any) bool {
		session, _ := v.(*engine.LockSession)
		l.sessions.Delete(k)
		session.Release(ctx)
		return true
	})
	return nil
}

// Lock is a handle to one held lock. Release it exactly once; releasing an
// already-released handle is a no-op.
type Lock struct {
	name    string
	token   string
	session *engine.LockSession
	locker  *Locker
}

// Name returns the logical lock name.
func (lk *Lock) Name() string {
	return lk.name
}

// Token returns the session token proving ownership.
func (lk *Lock) Token() string {
	return lk.token
}

// IsHeld returns true while the lock is still owned by this handle.
func (lk *Lock) IsHeld() bool {
	return lk.session.IsHeld()
}

// Release stops the heartbeat and deletes the lock record if this handle
// still owns it. It never fails; a record that could not be deleted expires
// on its own via TTL.
func (lk *Lock) Release(ctx context.Context) {
	lk.locker.sessions.Delete(lk.token)
	lk.session.Release(ctx)
}
