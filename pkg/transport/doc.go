// Package transport defines the service contract between the outer
// surfaces (HTTP, MCP) and the execution coordinator, together with the
// HTTP middleware chain and error mapping they share.
//
// # Service Interfaces
//
//   - Executor runs and cancels executions.
//   - Sessions reads session snapshots and history, and deletes sessions.
//   - Artifacts serves and revokes artifact content.
//   - Diagnostics answers runtime availability without running user code.
//
// Service combines all four; *engine.Coordinator implements it.
//
// # Middleware
//
// Middleware wraps an http.Handler. Built-in middleware provides panic
// recovery, request ID assignment (X-Request-ID), and structured access
// logging via log/slog.
//
// # Errors
//
// Domain errors from the engine, storage and artifact packages are mapped
// to api.APIError values by ErrorFrom and written as JSON by WriteError.
package transport
