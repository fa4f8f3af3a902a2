package locker

import "github.com/git-hulk/redlocker/locker/engine"

// ErrLockTimeout matches any acquisition timeout via errors.Is.
var ErrLockTimeout = engine.ErrLockTimeout

// TimeoutError carries the store key and the timeout of a failed
// acquisition; retrieve it with errors.As.
type TimeoutError = engine.TimeoutError
