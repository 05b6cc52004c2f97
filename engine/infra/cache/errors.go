package cache

import "errors"

var (
	// ErrLockNotAcquired is returned when the context ends before the lock frees up.
	ErrLockNotAcquired = errors.New("cache: lock not acquired")
	// ErrLockNotHeld is returned when releasing or refreshing a lock another owner took over.
	ErrLockNotHeld = errors.New("cache: lock not held")
)
