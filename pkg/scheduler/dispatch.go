package scheduler

import "sync"

// DispatchSet holds the IDs of jobs that are queued or being processed by
// this process.
type DispatchSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewDispatchSet() *DispatchSet {
	return &DispatchSet{ids: make(map[string]struct{})}
}

// TryAdd inserts id and reports whether it was absent.
func (s *DispatchSet) TryAdd(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *DispatchSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

func (s *DispatchSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *DispatchSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

// LockRegistry hands out one mutex per job ID. Entries are reference counted
// and dropped when the last holder or waiter releases them, so two callers
// never end up with different mutexes for the same ID.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*jobLock
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]*jobLock)}
}

// Acquire blocks until the lock for id is held and returns the function that
// releases it and deletes the registry entry when unused.
func (r *LockRegistry) Acquire(id string) (release func()) {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &jobLock{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()

			r.mu.Lock()
			defer r.mu.Unlock()
			l.refs--
			if l.refs == 0 {
				delete(r.locks, id)
			}
		})
	}
}

// Len returns the number of IDs with a live entry.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
