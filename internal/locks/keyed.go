// Package locks provides per-key mutual exclusion for serializing work on a
// single batch or principal without blocking unrelated keys.
package locks

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex hands out one mutex per key. Entries are dropped once the last
// holder releases, so the map does not grow with the key space.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyedMutex creates an empty keyed mutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

func (k *KeyedMutex) get(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedMutex) put(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// Lock blocks until the key's mutex is held
func (k *KeyedMutex) Lock(key string) {
	k.get(key).mu.Lock()
}

// TryLock acquires the key's mutex without blocking; it reports whether the
// lock was taken. Callers that fail to take it should treat the work as
// already in flight.
func (k *KeyedMutex) TryLock(key string) bool {
	e := k.get(key)
	if e.mu.TryLock() {
		return true
	}
	k.put(key, e)
	return false
}

// Unlock releases the key's mutex
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	k.mu.Unlock()
	if !ok {
		panic("locks: unlock of unheld key " + key)
	}
	e.mu.Unlock()
	k.put(key, e)
}
