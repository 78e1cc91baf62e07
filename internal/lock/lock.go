package lock

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	ErrEmptyKey      = errors.New("lock_key_empty")
	ErrInvalidTTL    = errors.New("lock_ttl_invalid")
	ErrNotConfigured = errors.New("lock_not_configured")
)

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func()

// Locker serializes work on string keys. Lock blocks until the key is held
// or ctx is done; TryLock never blocks and hands back an ownership token.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// LockAll acquires every key in ascending order. Two callers sharing keys
// therefore never wait on each other in opposite order.
func LockAll(ctx context.Context, l Locker, keys []string) (Unlock, error) {
	ordered := SortedUnique(keys)

	held := make([]Unlock, 0, len(ordered))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}

	for _, key := range ordered {
		unlock, err := l.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		held = append(held, unlock)
	}

	return onceUnlock(releaseAll), nil
}

// SortedUnique returns the non-empty keys deduplicated in ascending order.
func SortedUnique(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key != "" {
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func onceUnlock(fn func()) Unlock {
	done := false
	return func() {
		if done {
			return
		}
		done = true
		fn()
	}
}
