// Package storage defines the durable execution history contract shared by
// the storage adapters, together with sentinel errors and tenant context
// helpers.
//
// Adapters (memory, postgres) implement [HistoryStore]. History is
// append-only and ordered by completion: entries come back in the order
// they were appended.
package storage
