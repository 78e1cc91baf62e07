package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalLocker is an in-process keyed mutex for single-instance deployments.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	sem   chan struct{}
	refs  int
	token string
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localEntry)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	entry := l.ref(key)
	select {
	case entry.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.sem
				l.unref(key, entry)
			})
		}, nil
	case <-ctx.Done():
		l.unref(key, entry)
		return nil, ctx.Err()
	}
}

// TryLock ignores ttl; local locks live until Release.
func (l *LocalLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}

	entry := l.ref(key)
	select {
	case entry.sem <- struct{}{}:
		token := uuid.NewString()
		l.mu.Lock()
		entry.token = token
		l.mu.Unlock()
		return token, true, nil
	default:
		l.unref(key, entry)
		return "", false, nil
	}
}

func (l *LocalLocker) Release(_ context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}

	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok || entry.token != token {
		l.mu.Unlock()
		return nil
	}
	entry.token = ""
	l.mu.Unlock()

	<-entry.sem
	l.unref(key, entry)
	return nil
}

func (l *LocalLocker) ref(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[key]
	if !ok {
		entry = &localEntry{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (l *LocalLocker) unref(key string, entry *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}

var _ Locker = (*LocalLocker)(nil)
