// Package api defines the core types shared by every layer of the sandbox:
// execution requests, policy decisions, execution results, artifact
// references, history entries and events, plus the typed error used by the
// outer surfaces.
//
// The package has zero external dependencies (Go standard library only) and
// performs no I/O.
//
// Core types:
//   - [ExecutionRequest]: one unit of work submitted by an agent tool call
//   - [PolicyDecision]: the outcome of static validation, computed before any process exists
//   - [ExecutionResult]: the classified outcome handed back to the caller
//   - [ArtifactRef]: a session-scoped handle to a file produced by executed code
//   - [HistoryEntry] and [Event]: the history surface
//   - [APIError]: structured error with type, code, param, and message
package api
