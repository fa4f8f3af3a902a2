package engine

import (
	"context"
	"time"
)

const (
	// LockTTL is the expiry attached to every lock record. A dead holder's
	// lock survives at most this long without renewal.
	LockTTL = 5 * time.Second

	// heartbeatInterval is how often a held lock's expiry is pushed back
	// out to LockTTL.
	heartbeatInterval = 1 * time.Second
)

// Mutex is a single lock record in one store backend, bound to one session
// token. TryLock must be atomic store-side: set if absent, refresh if the
// current value is this mutex's own token, fail with ErrLockHeld otherwise.
type Mutex interface {
	Token() string
	Key() string
	IsLocked() bool
	TryLock(ctx context.Context) error
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// MutexFactory creates a Mutex for a freshly generated session token.
type MutexFactory interface {
	Create(token, key string) Mutex
}
