package engine

import (
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rhuss/antwort-sandbox/pkg/api"
)

// session is the coordinator's per-session state. The semaphore bounds
// concurrent executions; mu guards everything below it.
type session struct {
	tenant    string
	id        string
	root      string
	max       int
	sem       *semaphore.Weighted
	createdAt time.Time

	mu      sync.Mutex
	active  int
	history []api.HistoryEntry
	deleted bool
}

func newSession(tenant, id, root string, limit int) *session {
	return &session{
		tenant:    tenant,
		id:        id,
		root:      root,
		max:       limit,
		sem:       semaphore.NewWeighted(int64(limit)),
		createdAt: time.Now().UTC(),
	}
}

func (s *session) snapshot() *api.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &api.SessionInfo{
		SessionID:               s.id,
		ActiveExecutionCount:    s.active,
		MaxConcurrentExecutions: s.max,
		History:                 slices.Clone(s.history),
		CreatedAt:               s.createdAt,
	}
}
