package session

import "sync"

// resources tracks capture handles that must be released when the session ends.
type resources struct {
	mu      sync.Mutex
	entries map[string]*resource
}

type resource struct {
	cancel func()
	once   sync.Once
}

func newResources() *resources {
	return &resources{entries: make(map[string]*resource)}
}

// register stores cancel under name, cancelling any resource it replaces. The returned
// func forgets the entry without cancelling it.
func (r *resources) register(name string, cancel func()) (untrack func()) {
	entry := &resource{cancel: cancel}

	r.mu.Lock()
	old := r.entries[name]
	r.entries[name] = entry
	r.mu.Unlock()

	if old != nil {
		old.release()
	}

	return func() {
		r.mu.Lock()
		if r.entries[name] == entry {
			delete(r.entries, name)
		}
		r.mu.Unlock()
	}
}

func (r *resources) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// cancelAll releases and forgets every tracked resource.
func (r *resources) cancelAll() (canceled int) {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*resource)
	r.mu.Unlock()

	for _, entry := range entries {
		entry.release()
		canceled++
	}
	return canceled
}

func (e *resource) release() {
	e.once.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
	})
}
