// Package memory provides an in-memory implementation of
// storage.HistoryStore for tests and single-process deployments. History is
// lost when the process restarts. Optional LRU eviction bounds the number
// of sessions kept.
package memory

import (
	"container/list"
	"context"
	"sync"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/storage"
)

type sessionKey struct {
	tenant  string
	session string
}

// session holds one session's history in append order.
type session struct {
	entries []api.HistoryEntry
	lruElem *list.Element
}

// Store is an in-memory HistoryStore with optional LRU eviction of whole
// sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*session
	byExec   map[string]sessionKey
	lruList  *list.List // front = most recently appended
	maxSize  int        // max sessions, 0 = unlimited
}

var _ storage.HistoryStore = (*Store)(nil)

// New creates a new in-memory store. If maxSessions is 0 the store grows
// without limit; otherwise the least recently appended session is evicted
// when the limit is reached.
func New(maxSessions int) *Store {
	return &Store{
		sessions: make(map[sessionKey]*session),
		byExec:   make(map[string]sessionKey),
		lruList:  list.New(),
		maxSize:  maxSessions,
	}
}

// Append records entry at the end of its session's history.
func (s *Store) Append(ctx context.Context, entry *api.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byExec[entry.ExecutionID]; exists {
		return storage.ErrConflict
	}

	key := sessionKey{tenant: storage.GetTenant(ctx), session: entry.SessionID}
	sess, ok := s.sessions[key]
	if !ok {
		if s.maxSize > 0 && len(s.sessions) >= s.maxSize {
			s.evictOldest()
		}
		sess = &session{lruElem: s.lruList.PushFront(key)}
		s.sessions[key] = sess
	} else {
		s.lruList.MoveToFront(sess.lruElem)
	}

	sess.entries = append(sess.entries, *entry)
	s.byExec[entry.ExecutionID] = key
	return nil
}

// List returns the session's history after the cursor, in completion order.
func (s *Store) List(ctx context.Context, sessionID string, opts storage.ListOptions) (*storage.HistoryPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionKey{tenant: storage.GetTenant(ctx), session: sessionID}]
	if !ok {
		return storage.NewHistoryPage(nil, opts.NormalizedLimit()), nil
	}

	entries := sess.entries
	if opts.After != "" {
		idx := -1
		for i, e := range entries {
			if e.ExecutionID == opts.After {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, storage.ErrNotFound
		}
		entries = entries[idx+1:]
	}

	limit := opts.NormalizedLimit()
	if len(entries) > limit+1 {
		entries = entries[:limit+1]
	}
	return storage.NewHistoryPage(append([]api.HistoryEntry(nil), entries...), limit), nil
}

// Get returns the entry for executionID.
func (s *Store) Get(ctx context.Context, executionID string) (*api.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.byExec[executionID]
	if tenant := storage.GetTenant(ctx); !ok || (tenant != "" && key.tenant != tenant) {
		return nil, storage.ErrNotFound
	}
	for _, e := range s.sessions[key].entries {
		if e.ExecutionID == executionID {
			return &e, nil
		}
	}
	return nil, storage.ErrNotFound
}

// DeleteSession drops every entry of the session.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{tenant: storage.GetTenant(ctx), session: sessionID}
	if _, ok := s.sessions[key]; !ok {
		return storage.ErrNotFound
	}
	s.remove(key)
	return nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// evictOldest removes the least recently appended session.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	s.remove(back.Value.(sessionKey))
}

// remove must be called with s.mu held.
func (s *Store) remove(key sessionKey) {
	sess := s.sessions[key]
	s.lruList.Remove(sess.lruElem)
	for _, e := range sess.entries {
		delete(s.byExec, e.ExecutionID)
	}
	delete(s.sessions, key)
}
