package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pairwave/relay/internal/models"
)

// Sender is the transport handle for one live connection. Send must not
// block: a connection that cannot accept the event returns an error, which
// callers report as a transport failure.
type Sender interface {
	Send(ev models.Event) error
}

// Registry maps live connection ids to their transport handles. It is the
// sole authority on liveness; entries exist only while the connection is up.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Sender
}

func New() *Registry {
	return &Registry{conns: make(map[string]Sender)}
}

// Register allocates a fresh connection id for s and returns it.
func (r *Registry) Register(s Sender) string {
	id := uuid.New().String()
	r.mu.Lock()
	r.conns[id] = s
	r.mu.Unlock()
	return id
}

// Lookup resolves a connection id. A miss is a routing outcome, not an
// error: callers surface it as not-found on their own ack path.
func (r *Registry) Lookup(id string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.conns[id]
	return s, ok
}

// Unregister removes a connection on disconnect. Stale references held by
// peers simply miss on their next Lookup.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// Others snapshots every connection except the excluded id, for broadcast.
func (r *Registry) Others(exclude string) map[string]Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Sender, len(r.conns))
	for id, s := range r.conns {
		if id != exclude {
			out[id] = s
		}
	}
	return out
}

// IDs lists the currently registered connection ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
