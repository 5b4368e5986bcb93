package bridge

import (
	"fmt"
	"sync"
	"time"
)

// instanceRecord tracks one live host object visible to the VM by handle.
type instanceRecord struct {
	handle    string
	className string
	instance  interface{}
	created   time.Time
	lastUsed  time.Time
}

// InstanceStore maps opaque VM handles to live host object instances.
// Handles are allocated by the VM and never reused within a process run, so
// a stale handle held by VM code after eviction can only miss, never alias.
type InstanceStore struct {
	mu        sync.RWMutex
	instances map[string]*instanceRecord
}

// NewInstanceStore creates an empty instance store.
func NewInstanceStore() *InstanceStore {
	return &InstanceStore{
		instances: make(map[string]*instanceRecord),
	}
}

// Put registers a host instance under a handle. Re-putting a handle replaces
// the stored instance; the constructor dispatch inserts a fresh instance and
// the codec may replace it when passing an existing host object through.
func (s *InstanceStore) Put(handle, className string, instance interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.instances[handle] = &instanceRecord{
		handle:    handle,
		className: className,
		instance:  instance,
		created:   now,
		lastUsed:  now,
	}
}

// Get retrieves the instance for a handle. An unknown handle is a programming
// error and fails loudly.
func (s *InstanceStore) Get(handle string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.instances[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	rec.lastUsed = time.Now()
	return rec.instance, nil
}

// ClassName returns the class name recorded for a handle.
func (s *InstanceStore) ClassName(handle string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.instances[handle]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	return rec.className, nil
}

// Release removes a handle.
func (s *InstanceStore) Release(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, handle)
}

// Len returns the number of live instances.
func (s *InstanceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// Range calls fn for each live instance until fn returns false.
func (s *InstanceStore) Range(fn func(handle, className string, instance interface{}) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.instances {
		if !fn(rec.handle, rec.className, rec.instance) {
			return
		}
	}
}

// Sweep removes instances that haven't been accessed within the TTL and
// returns how many were removed.
func (s *InstanceStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for handle, rec := range s.instances {
		if rec.lastUsed.Before(cutoff) {
			delete(s.instances, handle)
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *InstanceStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
