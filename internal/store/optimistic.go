package store

import "sync"

const defaultOptimisticCap = 500

// OptimisticSet tracks locally-generated ids awaiting server confirmation.
// When the realtime echo of one's own write arrives, membership here tells
// the reconciler to skip re-insertion. The set is bounded: once the cap is
// exceeded the oldest id is evicted, so a long session cannot grow it
// without limit.
type OptimisticSet struct {
	mu    sync.Mutex
	cap   int
	ids   map[string]struct{}
	order []string
}

// NewOptimisticSet creates a set with the given capacity. A non-positive
// cap falls back to the default of 500.
func NewOptimisticSet(cap int) *OptimisticSet {
	if cap <= 0 {
		cap = defaultOptimisticCap
	}
	return &OptimisticSet{
		cap: cap,
		ids: make(map[string]struct{}),
	}
}

// Add records a pending optimistic id.
func (s *OptimisticSet) Add(id string) {
	if id == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[id]; exists {
		return
	}

	s.ids[id] = struct{}{}
	s.order = append(s.order, id)

	for len(s.order) > s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.ids, oldest)
	}
}

// Confirm removes an id and reports whether it was pending. A true result
// means the caller is looking at the server echo of its own write.
func (s *OptimisticSet) Confirm(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[id]; !exists {
		return false
	}

	delete(s.ids, id)
	for i, queued := range s.order {
		if queued == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports whether an id is pending without removing it.
func (s *OptimisticSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.ids[id]
	return exists
}

// Len returns the number of pending ids.
func (s *OptimisticSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
