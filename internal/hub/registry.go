package hub

import "sync"

// Registry tracks live connections: registered producers keyed by device id
// and the set of opted-in observers. It is owned by the acceptor and injected
// into every handler.
//
// Each connection runs on its own goroutine, so all access is mutex-guarded.
type Registry struct {
	mu        sync.Mutex
	producers map[string]*Conn
	observers map[*Conn]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		producers: make(map[string]*Conn),
		observers: make(map[*Conn]struct{}),
	}
}

// AddProducer registers c under id and returns the previously registered
// connection for that id, if any. The caller closes the old connection; the
// new one wins.
func (r *Registry) AddProducer(id string, c *Conn) (old *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old = r.producers[id]
	r.producers[id] = c
	return old
}

// RemoveProducer deletes the entry for id, but only if c is still the
// registered connection. Returns true when the entry was removed; false means
// a newer connection has already replaced c and no roster change happened.
func (r *Registry) RemoveProducer(id string, c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.producers[id] != c {
		return false
	}
	delete(r.producers, id)
	return true
}

// Producer returns the live connection registered under id.
func (r *Registry) Producer(id string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.producers[id]
	return c, ok
}

// ProducerIDs returns the ids of all registered producers.
func (r *Registry) ProducerIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.producers))
	for id := range r.producers {
		ids = append(ids, id)
	}
	return ids
}

// AddObserver adds c to the observer set.
func (r *Registry) AddObserver(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers[c] = struct{}{}
}

// RemoveObserver drops c from the observer set.
func (r *Registry) RemoveObserver(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.observers, c)
}

// Observers returns a snapshot of the current observer set.
func (r *Registry) Observers() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.observers))
	for c := range r.observers {
		out = append(out, c)
	}
	return out
}

// Conns returns a snapshot of every tracked connection, producers and
// observers alike. Used by the liveness pinger.
func (r *Registry) Conns() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.producers)+len(r.observers))
	for _, c := range r.producers {
		out = append(out, c)
	}
	for c := range r.observers {
		out = append(out, c)
	}
	return out
}

// CountProducers returns the number of registered producers.
func (r *Registry) CountProducers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.producers)
}

// CountObservers returns the number of opted-in observers.
func (r *Registry) CountObservers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}
