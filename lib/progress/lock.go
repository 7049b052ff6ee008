package progress

import "sync"

// keyedMutex serializes work per key. Entries are dropped once no goroutine
// holds or waits for them.
type keyedMutex struct {
	lock  sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*refMutex{}}
}

// Lock blocks until key is free and returns the function that releases it.
func (k *keyedMutex) Lock(key string) func() {
	k.lock.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.lock.Unlock()

	m.Lock()

	return func() {
		m.Unlock()

		k.lock.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.lock.Unlock()
	}
}

func (k *keyedMutex) len() int {
	k.lock.Lock()
	defer k.lock.Unlock()
	return len(k.locks)
}
