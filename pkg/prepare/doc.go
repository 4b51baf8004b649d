// Package prepare turns a checked request into a runnable harness script.
//
// A script is the concatenation of a runtime-specific prologue (the result
// channel, the deliberate-error hook and one loader call per dataset
// binding), the possibly rewritten user source, and an epilogue that
// serializes the reserved result variable into a protocol frame. Preparing
// is a pure string transformation; nothing is executed or written here.
package prepare
