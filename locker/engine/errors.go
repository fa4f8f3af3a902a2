package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrLockHeld      = errors.New("lock is held by another client")
	ErrNotLockHolder = errors.New("you're not lock holder")
	ErrLockTimeout   = errors.New("lock acquire timed out")
)

// TimeoutError reports that a lock could not be acquired within the caller's
// timeout. It matches ErrLockTimeout via errors.Is.
type TimeoutError struct {
	// Name is the logical lock name, filled in by the public surface.
	Name    string
	Key     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out acquiring lock[%s] after %s", e.Key, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrLockTimeout
}
