// Package registry keeps named sets of implementations that plug themselves
// in from init functions, such as store and ledger backends.
package registry

import (
	"maps"
	"slices"
	"sync"
)

// Set maps names to implementations. The zero value is ready to use and is
// safe for concurrent use. Registering a name again replaces it.
type Set[T any] struct {
	lock  sync.RWMutex
	impls map[string]T
}

func (s *Set[T]) Register(name string, impl T) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.impls == nil {
		s.impls = map[string]T{}
	}

	s.impls[name] = impl
}

func (s *Set[T]) Get(name string) (T, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	result, ok := s.impls[name]
	return result, ok
}

// Names returns every registered name in sorted order.
func (s *Set[T]) Names() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return slices.Sorted(maps.Keys(s.impls))
}
