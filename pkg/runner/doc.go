// Package runner executes one subprocess per call under hard limits.
//
// Each process runs in its own session so the whole process group can be
// killed when the wall-clock timer fires, the caller cancels, or combined
// stdout and stderr exceed the output cap. On Linux, address space, CPU
// time, file size and process count are bounded with prlimit, and the
// network can be removed with a fresh network namespace.
//
// The runner never retries and never interprets output; it reports what
// happened and leaves classification to the caller.
package runner
