package storage

import (
	"context"
	"time"
)

// lockRetryInterval is how often a blocked lock attempt is retried.
const lockRetryInterval = 10 * time.Millisecond

// lockFileName is the advisory lock file inside a FileStore directory.
// Keys cannot contain dots, so it never collides with a slot.
const lockFileName = ".lock"

// Locker is implemented by stores that can be held exclusively across a
// read-modify-write cycle. Lock blocks until the caller holds the store or
// ctx is done. File-backed stores hold it against other processes too.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// WithLock runs fn while holding s's lock. For stores that are not Lockers
// fn runs directly.
func WithLock(ctx context.Context, s Store, fn func() error) error {
	l, ok := s.(Locker)
	if !ok {
		return fn()
	}
	unlock, err := l.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}
