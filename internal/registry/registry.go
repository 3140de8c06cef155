// Package registry tracks every live client connection of the server.
//
// Room-scoped messaging does not go through the registry; it is used for
// diagnostics and process-wide fan-out such as closing all connections on
// shutdown.
package registry

import (
	"sync"

	"github.com/google/uuid"
)

// Handle identifies a registered connection.
type Handle string

// Conn is the part of a connection the registry needs.
type Conn interface {
	Close() error
}

type Registry struct {
	mu    sync.RWMutex
	conns map[Handle]Conn
	order []Handle
}

func New() *Registry {
	return &Registry{
		conns: make(map[Handle]Conn),
	}
}

// Register adds c and returns its handle. The membership change is visible to
// every subsequent call.
func (r *Registry) Register(c Conn) Handle {
	h := Handle(uuid.NewString())

	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[h] = c
	r.order = append(r.order, h)
	return h
}

// Unregister removes h. Unknown handles are ignored.
func (r *Registry) Unregister(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[h]; !ok {
		return
	}

	delete(r.conns, h)
	for i, o := range r.order {
		if o == h {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Range calls fn for every live connection in registration order until fn
// returns false. The read lock is held for the whole iteration, so a handle is
// never visited once its Unregister call has returned. fn must not call back
// into the registry.
func (r *Registry) Range(fn func(h Handle, c Conn) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, h := range r.order {
		if !fn(h, r.conns[h]) {
			return
		}
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// CloseAll closes every live connection and returns how many were closed.
// Connections unregister themselves once their read loop observes the close.
func (r *Registry) CloseAll() int {
	var conns []Conn
	r.Range(func(_ Handle, c Conn) bool {
		conns = append(conns, c)
		return true
	})

	for _, c := range conns {
		_ = c.Close()
	}

	return len(conns)
}
