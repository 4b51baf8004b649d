package engine

import (
	"context"
	"slices"
	"sync"
)

// inflightRegistry maps execution ids to the cancel functions of their
// contexts, so an execution can be stopped by id or by session.
//
// All methods are safe for concurrent access.
type inflightRegistry struct {
	mu      sync.Mutex
	entries map[string]inflightEntry
}

type inflightEntry struct {
	tenant  string
	session string
	cancel  context.CancelFunc
}

func newInflightRegistry() *inflightRegistry {
	return &inflightRegistry{entries: make(map[string]inflightEntry)}
}

// register adds an execution. The cancel function is called if the
// execution is explicitly cancelled.
func (r *inflightRegistry) register(id, tenant, session string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = inflightEntry{tenant: tenant, session: session, cancel: cancel}
}

// cancel cancels one execution of tenant. It returns false if the id is
// not in flight (already finished or never existed).
func (r *inflightRegistry) cancel(id, tenant string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.tenant != tenant {
		return false
	}
	e.cancel()
	delete(r.entries, id)
	return true
}

// cancelSession cancels every execution of a tenant's session and returns
// how many were cancelled.
func (r *inflightRegistry) cancelSession(tenant, session string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if e.tenant == tenant && e.session == session {
			e.cancel()
			delete(r.entries, id)
			n++
		}
	}
	return n
}

// list returns the ids in flight for a tenant's session, sorted.
func (r *inflightRegistry) list(tenant, session string) []string {
	r.mu.Lock()
	var ids []string
	for id, e := range r.entries {
		if e.tenant == tenant && e.session == session {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// remove drops an execution without cancelling it.
func (r *inflightRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}
