package subscription

import (
	"sort"
	"sync"
)

// Keyed holds at most one handle, tied to a filter key such as a chat peer or
// a profile subject. Switching keys closes the old handle before the new one
// is opened.
type Keyed struct {
	mu     sync.Mutex
	key    string
	handle *Handle
}

// Switch points the subscription at key. It is a no-op when key is already
// current. open must not call back into k.
func (k *Keyed) Switch(key string, open func() *Handle) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.handle != nil && k.key == key {
		return false
	}
	if k.handle != nil {
		k.handle.Close()
		k.handle = nil
	}
	k.key = key
	k.handle = open()
	return true
}

// Key returns the current key, "" when closed.
func (k *Keyed) Key() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.key
}

// Close releases the current handle.
func (k *Keyed) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.handle != nil {
		k.handle.Close()
		k.handle = nil
	}
	k.key = ""
}

// Set keeps one handle per key in a derived key set, such as the distinct
// authors of the posts on screen. Reconcile opens and closes only the
// difference between the old and new sets.
type Set struct {
	open func(key string) *Handle

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewSet creates a set that opens handles with open.
func NewSet(open func(key string) *Handle) *Set {
	return &Set{open: open, handles: make(map[string]*Handle)}
}

// Reconcile makes the live handles match keys. Empty keys are ignored. It
// returns the sorted keys it opened and closed.
func (s *Set) Reconcile(keys []string) (opened, closed []string) {
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			want[k] = struct{}{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, h := range s.handles {
		if _, ok := want[k]; !ok {
			h.Close()
			delete(s.handles, k)
			closed = append(closed, k)
		}
	}
	for k := range want {
		if _, ok := s.handles[k]; !ok {
			s.handles[k] = s.open(k)
			opened = append(opened, k)
		}
	}
	sort.Strings(opened)
	sort.Strings(closed)
	return opened, closed
}

// Keys returns the sorted live keys.
func (s *Set) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.handles))
	for k := range s.handles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close releases every handle.
func (s *Set) Close() {
	s.Reconcile(nil)
}
