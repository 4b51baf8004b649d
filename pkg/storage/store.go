package storage

import (
	"context"

	"github.com/rhuss/antwort-sandbox/pkg/api"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ListOptions page through a session's history. After is an execution id
// cursor; entries strictly after it are returned.
type ListOptions struct {
	Limit int
	After string
}

// NormalizedLimit clamps Limit into [1, MaxListLimit].
func (o ListOptions) NormalizedLimit() int {
	switch {
	case o.Limit <= 0:
		return DefaultListLimit
	case o.Limit > MaxListLimit:
		return MaxListLimit
	}
	return o.Limit
}

// HistoryPage is one page of history in completion order.
type HistoryPage struct {
	Object  string             `json:"object"`
	Data    []api.HistoryEntry `json:"data"`
	HasMore bool               `json:"has_more"`
	FirstID string             `json:"first_id,omitempty"`
	LastID  string             `json:"last_id,omitempty"`
}

// NewHistoryPage builds a page from entries that may hold one extra
// element beyond limit.
func NewHistoryPage(entries []api.HistoryEntry, limit int) *HistoryPage {
	p := &HistoryPage{Object: "list", HasMore: len(entries) > limit}
	if p.HasMore {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []api.HistoryEntry{}
	}
	p.Data = entries
	if len(entries) > 0 {
		p.FirstID = entries[0].ExecutionID
		p.LastID = entries[len(entries)-1].ExecutionID
	}
	return p
}

// HistoryStore persists terminal execution summaries. All methods are
// scoped by the tenant in the context, when one is set.
type HistoryStore interface {
	// Append records entry. Appending the same execution id twice returns
	// ErrConflict.
	Append(ctx context.Context, entry *api.HistoryEntry) error

	// List returns a session's history in completion order.
	List(ctx context.Context, sessionID string, opts ListOptions) (*HistoryPage, error)

	// Get returns the entry for one execution.
	Get(ctx context.Context, executionID string) (*api.HistoryEntry, error)

	// DeleteSession drops a session's history. It returns ErrNotFound when
	// the session has none.
	DeleteSession(ctx context.Context, sessionID string) error

	HealthCheck(ctx context.Context) error
	Close() error
}
