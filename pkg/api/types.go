package api

import "time"

// Runtime identifies one of the supported execution environments.
type Runtime string

const (
	RuntimePython Runtime = "python"
	RuntimeR      Runtime = "r"
)

// Runtimes returns the closed set of supported runtimes in a stable order.
func Runtimes() []Runtime {
	return []Runtime{RuntimePython, RuntimeR}
}

// Valid reports whether r is a supported runtime.
func (r Runtime) Valid() bool {
	switch r {
	case RuntimePython, RuntimeR:
		return true
	}
	return false
}

// Status is the terminal classification of an execution.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusPolicyRejected   Status = "policy_rejected"
	StatusRuntimeError     Status = "runtime_error"
	StatusTimeout          Status = "timeout"
	StatusResourceExceeded Status = "resource_exceeded"
)

// RuleKind distinguishes the two static checks of the policy engine.
type RuleKind string

const (
	RuleKindImport RuleKind = "import"
	RuleKindCall   RuleKind = "call"
)

// DatasetBinding maps a logical variable name to a dataset in storage.
type DatasetBinding struct {
	LogicalName      string `json:"logical_name"`
	StorageReference string `json:"storage_reference"`
}

// MaxRecoveries caps automatic recovery attempts (install-and-retry and any
// future recovery path) per request.
const MaxRecoveries = 1

// ExecutionRequest is the unit of work for one agent tool call.
type ExecutionRequest struct {
	Runtime          Runtime          `json:"runtime"`
	SourceCode       string           `json:"source_code"`
	DatasetBindings  []DatasetBinding `json:"dataset_bindings,omitempty"`
	SessionID        string           `json:"session_id"`
	AllowInstall     bool             `json:"allow_install,omitempty"`
	TimeoutSeconds   int              `json:"timeout_seconds,omitempty"`
	WorkingDirectory string           `json:"working_directory,omitempty"`

	recoveries int
}

// Clone returns a deep copy with a fresh recovery counter.
func (r *ExecutionRequest) Clone() *ExecutionRequest {
	c := *r
	c.recoveries = 0
	if r.DatasetBindings != nil {
		c.DatasetBindings = append([]DatasetBinding(nil), r.DatasetBindings...)
	}
	return &c
}

// ConsumeRecovery reserves the request's recovery attempt. It returns false
// once MaxRecoveries attempts have been consumed.
func (r *ExecutionRequest) ConsumeRecovery() bool {
	if r.recoveries >= MaxRecoveries {
		return false
	}
	r.recoveries++
	return true
}

// Recoveries returns how many recovery attempts have been consumed.
func (r *ExecutionRequest) Recoveries() int {
	return r.recoveries
}

// Violation is a single matched policy rule.
type Violation struct {
	RuleKind RuleKind `json:"rule_kind"`
	Symbol   string   `json:"symbol"`
	Reason   string   `json:"reason"`
}

// PolicyDecision is the result of static validation.
type PolicyDecision struct {
	Allowed         bool        `json:"allowed"`
	Violations      []Violation `json:"violations,omitempty"`
	RewrittenSource string      `json:"rewritten_source,omitempty"`
	AppliedShims    []string    `json:"applied_shims,omitempty"`
	Imports         []string    `json:"imports,omitempty"`
}

// EffectiveSource returns the rewritten source if present, else the original.
func (d *PolicyDecision) EffectiveSource(original string) string {
	if d != nil && d.RewrittenSource != "" {
		return d.RewrittenSource
	}
	return original
}

// ValueKind is the shape of a structured value.
type ValueKind string

const (
	ValueKindScalar ValueKind = "scalar"
	ValueKindObject ValueKind = "object"
	ValueKindTable  ValueKind = "table"
	ValueKindError  ValueKind = "error"
	ValueKindNone   ValueKind = "none"
)

// StructuredValue is the typed payload extracted from an execution.
type StructuredValue struct {
	Kind  ValueKind     `json:"kind"`
	Value any           `json:"value,omitempty"`
	Table *TablePreview `json:"table,omitempty"`
	Error *ErrorDetail  `json:"error,omitempty"`
}

// TablePreview is a bounded view of tabular output. TotalRows counts the
// full table, independent of how many rows the preview carries.
type TablePreview struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	TotalRows int      `json:"total_rows"`
}

// ErrorDetail describes a failure in a way the agent layer can act on.
type ErrorDetail struct {
	Type       string   `json:"type"`
	Message    string   `json:"message"`
	Lines      []string `json:"lines,omitempty"`
	Deliberate bool     `json:"deliberate,omitempty"`
	Package    string   `json:"package,omitempty"`
	ElapsedMs  int64    `json:"elapsed_ms,omitempty"`
	Limit      string   `json:"limit,omitempty"`
}

// Visibility controls whether an artifact is offered to downstream display.
type Visibility string

const (
	VisibilityInternal Visibility = "internal"
	VisibilityExposed  Visibility = "exposed"
)

// ArtifactCategory is an advisory display classification.
type ArtifactCategory string

const (
	CategoryChart  ArtifactCategory = "chart"
	CategoryReport ArtifactCategory = "report"
	CategoryData   ArtifactCategory = "data"
	CategoryOther  ArtifactCategory = "other"
)

// ArtifactRef is a handle to a file produced by executed code. StoragePath
// is always relative to the session workspace root.
type ArtifactRef struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	MimeType     string           `json:"mime_type"`
	SizeBytes    int64            `json:"size_bytes"`
	StoragePath  string           `json:"storage_path"`
	Visibility   Visibility       `json:"visibility"`
	Category     ArtifactCategory `json:"category"`
	Materialized bool             `json:"materialized"`
}

// ExecutionResult is the classified outcome of an execution.
type ExecutionResult struct {
	ExecutionID     string           `json:"execution_id"`
	SessionID       string           `json:"session_id"`
	Status          Status           `json:"status"`
	Message         string           `json:"message"`
	StructuredValue *StructuredValue `json:"structured_value,omitempty"`
	StdoutLog       string           `json:"stdout_log"`
	StderrLog       string           `json:"stderr_log"`
	Artifacts       []ArtifactRef    `json:"artifacts"`
	DurationMs      int64            `json:"duration_ms"`
	ExitCode        int              `json:"exit_code"`
	Policy          *PolicyDecision  `json:"policy,omitempty"`
	Recovered       bool             `json:"recovered,omitempty"`
	Truncated       bool             `json:"truncated,omitempty"`
}

// Clone returns a copy that shares no mutable slices with r.
func (r *ExecutionResult) Clone() *ExecutionResult {
	c := *r
	c.Artifacts = append([]ArtifactRef(nil), r.Artifacts...)
	if r.StructuredValue != nil {
		sv := *r.StructuredValue
		c.StructuredValue = &sv
	}
	if r.Policy != nil {
		p := *r.Policy
		p.Violations = append([]Violation(nil), r.Policy.Violations...)
		c.Policy = &p
	}
	return &c
}

// RequestSummary is the compact, loggable form of a request.
type RequestSummary struct {
	Runtime       Runtime  `json:"runtime"`
	SourcePreview string   `json:"source_preview"`
	SourceSHA256  string   `json:"source_sha256"`
	Datasets      []string `json:"datasets,omitempty"`
	AllowInstall  bool     `json:"allow_install,omitempty"`
}

// HistoryEntry is the summary appended to a session's history on every
// terminal state.
type HistoryEntry struct {
	ExecutionID string         `json:"execution_id"`
	SessionID   string         `json:"session_id"`
	Request     RequestSummary `json:"request"`
	Status      Status         `json:"status"`
	Artifacts   []ArtifactRef  `json:"artifacts,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
	ExitCode    int            `json:"exit_code"`
	Recovered   bool           `json:"recovered,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
}

// EventType names history-surface events.
type EventType string

const (
	EventExecutionCompleted EventType = "execution.completed"
	EventSessionDeleted     EventType = "session.deleted"
)

// Event is published once per terminal state transition.
type Event struct {
	// Tenant scopes delivery; it is never serialized.
	Tenant         string         `json:"-"`
	Type           EventType      `json:"type"`
	SessionID      string         `json:"session_id"`
	ExecutionID    string         `json:"execution_id,omitempty"`
	RequestSummary RequestSummary `json:"request_summary"`
	Status         Status         `json:"status,omitempty"`
	Artifacts      []ArtifactRef  `json:"artifacts,omitempty"`
	DurationMs     int64          `json:"duration_ms"`
	Timestamp      time.Time      `json:"timestamp"`
}

// SessionInfo is a read-only snapshot of an execution session.
type SessionInfo struct {
	SessionID               string         `json:"session_id"`
	ActiveExecutionCount    int            `json:"active_execution_count"`
	InFlightExecutionIDs    []string       `json:"in_flight_execution_ids,omitempty"`
	MaxConcurrentExecutions int            `json:"max_concurrent_executions"`
	History                 []HistoryEntry `json:"history"`
	CreatedAt               time.Time      `json:"created_at"`
}

// RuntimeStatus is the answer of the diagnostics surface.
type RuntimeStatus struct {
	Runtime   Runtime `json:"runtime"`
	Installed bool    `json:"installed"`
	Version   *string `json:"version"`
}
