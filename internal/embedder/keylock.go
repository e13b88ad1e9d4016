package embedder

import "sync"

// KeyedLock serializes long-running idempotent operations per logical key.
// Concurrent callers for the same key block until the in-flight holder
// releases, rather than duplicating work. Ordinary embed calls never take it.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLock creates an empty keyed lock set.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the named mutex for key, blocking while another holder owns it.
func (l *KeyedLock) Lock(key string) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &keyedEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the named mutex for key. The entry is dropped from the map
// once no goroutine holds or waits on it.
func (l *KeyedLock) Unlock(key string) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if ok {
		e.refs--
		if e.refs <= 0 {
			delete(l.locks, key)
		}
	}
	l.mu.Unlock()

	if ok {
		e.mu.Unlock()
	}
}
