// Package engine implements the execution session coordinator, the only
// component of the sandbox with external callers.
//
// The Coordinator drives one request through policy evaluation, harness
// preparation, the process runner, result extraction, artifact collection
// and the optional install-and-retry recovery. It owns per-session state:
// the concurrency ceiling, the active execution count and the append-only
// history. Every terminal state is recorded in history, persisted to the
// optional HistoryStore and published exactly once before Execute returns.
//
// Optional collaborators (store, publisher, resolver, dataset source) use
// nil-safe composition: a Coordinator without them still executes code.
package engine
