// Package keyedmutex provides per-key mutual exclusion: operations against
// the same key serialize while operations against distinct keys proceed in
// parallel, with no global lock held across a critical section.
package keyedmutex

import "sync"

// Map hands out one mutex per key. Entries are created on first use and kept
// until Forget is called; callers remove an entry only once the keyed
// resource is permanently gone, so that late operations still serialize.
type Map struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns an empty keyed mutex map.
func New() *Map {
	return &Map{locks: make(map[string]*sync.Mutex)}
}

// Acquire locks the mutex for key and returns its release function. The
// release function is safe to call more than once; only the first call
// unlocks. Callers should defer it so every exit path, including failures,
// releases the key.
func (m *Map) Acquire(key string) func() {
	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	var once sync.Once
	return func() {
		once.Do(lock.Unlock)
	}
}

// Forget drops the entry for key. Only call after the keyed resource has
// been physically removed; a later Acquire for the same key starts a fresh
// chain.
func (m *Map) Forget(key string) {
	m.mu.Lock()
	delete(m.locks, key)
	m.mu.Unlock()
}

// Len reports how many keys are currently tracked.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
