package scheduler

import (
	"context"
	"sync"
)

// KeyMutex is an in-process per-key lock. It serializes reconciliation
// per document when no Redis is configured; with multiple scheduler
// replicas the Redis lock must be used instead, since this one only
// covers a single process.
type KeyMutex struct {
	mu      sync.Mutex
	entries map[string]*keyEntry
}

type keyEntry struct {
	ch   chan struct{} // buffered 1; holding the token means holding the lock
	refs int
}

// NewKeyMutex creates an empty key mutex.
func NewKeyMutex() *KeyMutex {
	return &KeyMutex{entries: make(map[string]*keyEntry)}
}

// Acquire blocks until the key's lock is free or ctx is done. The
// returned release function must be called exactly once.
func (k *KeyMutex) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e := k.entries[key]
	if e == nil {
		e = &keyEntry{ch: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			k.put(key, e)
		}, nil
	case <-ctx.Done():
		k.put(key, e)
		return nil, ctx.Err()
	}
}

// put drops one reference and evicts the entry once nobody holds or
// waits on it, so the map does not grow with every document ever seen.
func (k *KeyMutex) put(key string, e *keyEntry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}
