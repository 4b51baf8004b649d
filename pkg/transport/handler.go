package transport

import (
	"context"
	"os"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/storage"
)

// Executor runs and cancels executions. Execute returns an error only when
// the request is invalid; every execution outcome is a result.
type Executor interface {
	Execute(ctx context.Context, req *api.ExecutionRequest) (*api.ExecutionResult, error)
	Cancel(ctx context.Context, executionID string) error
}

// Sessions reads and deletes sessions of the tenant in the context.
type Sessions interface {
	Session(ctx context.Context, id string) (*api.SessionInfo, error)
	History(ctx context.Context, id string, opts storage.ListOptions) (*storage.HistoryPage, error)
	DeleteSession(ctx context.Context, id string) error
}

// Artifacts serves artifact content.
type Artifacts interface {
	OpenArtifact(ctx context.Context, sessionID, artifactID string) (api.ArtifactRef, *os.File, error)
	RevokeArtifact(ctx context.Context, sessionID, artifactID string) error
}

// Diagnostics reports runtime availability.
type Diagnostics interface {
	RuntimeAvailable(ctx context.Context, rt api.Runtime) api.RuntimeStatus
}

// Service is everything the outer surfaces need from the coordinator.
type Service interface {
	Executor
	Sessions
	Artifacts
	Diagnostics
}

// EventSource streams history-surface events of one tenant.
type EventSource interface {
	Subscribe(tenant, sessionID string) (<-chan api.Event, func())
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
