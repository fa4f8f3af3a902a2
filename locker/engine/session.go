package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/git-hulk/redlocker/internal"

	"go.uber.org/atomic"
)

const (
	sessionStateAcquiring = iota + 1
	sessionStateHeld
	sessionStateReleased
	sessionStateFailed
)

// LockSession drives one acquire/hold/release cycle over a Mutex: the polling
// acquisition loop, the heartbeat goroutine that keeps a held lock renewed,
// and the ownership-checked release. A session is single-use; create a new
// one for every lock attempt.
type LockSession struct {
	Mutex

	state atomic.Int32

	wg         sync.WaitGroup
	shutdownCh chan struct{}
}

func NewLockSession(mu Mutex) *LockSession {
	session := &LockSession{
		Mutex: mu,

		shutdownCh: make(chan struct{}),
	}
	session.state.Store(sessionStateAcquiring)
	return session
}

// IsHeld returns true while the session owns the lock.
func (s *LockSession) IsHeld() bool {
	return s.state.Load() == sessionStateHeld
}

// Acquire polls the mutex until the lock is obtained or timeout elapses,
// sleeping delay between unsuccessful attempts. The first attempt is always
// made, so a zero timeout still gets exactly one try. On success the
// heartbeat goroutine is started and nil is returned; on timeout a
// *TimeoutError is returned and no lock is held. Store errors other than
// ErrLockHeld abort the loop and are returned as-is.
func (s *LockSession) Acquire(ctx context.Context, timeout, delay time.Duration) error {
	start := time.Now()
	for {
		err := s.Mutex.TryLock(ctx)
		if err == nil {
			s.state.Store(sessionStateHeld)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.keepalive(ctx)
			}()
			return nil
		}
		if !errors.Is(err, ErrLockHeld) {
			s.state.Store(sessionStateFailed)
			return err
		}
		if time.Since(start) > timeout {
			s.state.Store(sessionStateFailed)
			return &TimeoutError{Key: s.Mutex.Key(), Timeout: timeout}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			s.state.Store(sessionStateFailed)
			return ctx.Err()
		}
	}
}

// keepalive extends the lock's expiry back out to LockTTL on every tick.
// Refresh failures are logged and retried on the next tick; they are never
// surfaced to the caller. A record that expired while the store was
// rejecting refreshes is recreated through the atomic acquire step on the
// next successful tick, unless another session took the key over.
func (s *LockSession) keepalive(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			err := s.Mutex.Refresh(ctx)
			if errors.Is(err, ErrNotLockHolder) {
				// The record is gone, re-run the acquire step to put it
				// back with the same token. It refreshes instead when
				// the record still carries this token.
				err = s.Mutex.TryLock(ctx)
			}
			if err != nil {
				internal.GetLogger().Printf("Failed to refresh lock[%s], err: %v", s.Mutex.Key(), err)
			}
		}
	}
}

// Release stops the heartbeat, waits for it to return, and deletes the lock
// record if this session still owns it. It runs at most once; calling it on
// a session that never held the lock is a no-op. Release never fails: a
// record that could not be deleted expires on its own via TTL.
func (s *LockSession) Release(ctx context.Context) {
	if !s.state.CompareAndSwap(sessionStateHeld, sessionStateReleased) {
		return
	}

	close(s.shutdownCh)
	s.wg.Wait()

	if err := s.Mutex.Release(ctx); err != nil && !errors.Is(err, ErrNotLockHolder) {
		internal.GetLogger().Printf("Failed to release lock[%s], err: %v", s.Mutex.Key(), err)
	}
}
