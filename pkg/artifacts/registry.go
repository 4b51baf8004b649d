package artifacts

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/rhuss/antwort-sandbox/pkg/api"
)

// ErrNotFound is returned for unknown or revoked artifact ids.
var ErrNotFound = errors.New("artifact not found")

// Registry indexes artifacts per session. IDs are random and stable for the
// lifetime of the session; revoking an id makes it unresolvable without
// touching the file.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]api.ArtifactRef
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]map[string]api.ArtifactRef)}
}

// Register assigns ids to refs and indexes them under sessionID. The
// returned slice is a copy carrying the ids.
func (r *Registry) Register(sessionID string, refs []api.ArtifactRef) []api.ArtifactRef {
	out := make([]api.ArtifactRef, len(refs))
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.sessions[sessionID]
	if !ok {
		idx = make(map[string]api.ArtifactRef)
		r.sessions[sessionID] = idx
	}
	for i, ref := range refs {
		ref.ID = "art_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		idx[ref.ID] = ref
		out[i] = ref
	}
	return out
}

// Resolve returns the reference for id within sessionID.
func (r *Registry) Resolve(sessionID, id string) (api.ArtifactRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.sessions[sessionID][id]
	if !ok {
		return api.ArtifactRef{}, ErrNotFound
	}
	return ref, nil
}

// Revoke removes id from sessionID's index.
func (r *Registry) Revoke(sessionID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.sessions[sessionID]
	if _, ok := idx[id]; !ok {
		return ErrNotFound
	}
	delete(idx, id)
	return nil
}

// List returns every live reference in sessionID, ordered by storage path.
func (r *Registry) List(sessionID string) []api.ArtifactRef {
	r.mu.RLock()
	refs := make([]api.ArtifactRef, 0, len(r.sessions[sessionID]))
	for _, ref := range r.sessions[sessionID] {
		refs = append(refs, ref)
	}
	r.mu.RUnlock()
	slices.SortFunc(refs, func(a, b api.ArtifactRef) int {
		return strings.Compare(a.StoragePath, b.StoragePath)
	})
	return refs
}

// Purge forgets every reference in sessionID.
func (r *Registry) Purge(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}
