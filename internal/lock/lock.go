// Package lock provides a process-external, named, exclusive lock so that
// at most one sync runner works a mailbox label across a fleet.
package lock

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
)

// ErrLocked is returned by TryAcquire when another holder owns the lock.
var ErrLocked = errors.New("lock is held by another instance")

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Name() string
	Release(ctx context.Context) error
}

// Locker acquires named locks without blocking.
type Locker interface {
	TryAcquire(ctx context.Context, name string) (Lease, error)
}

// Key hashes a lock name into the signed 64-bit key space used by
// advisory locks.
func Key(name string) int64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte("mailsync"))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(strings.TrimSpace(name)))
	return int64(hasher.Sum64())
}
