// Package artifacts discovers files written by executed code and keeps a
// per-session index of them.
//
// Discovery is a diff of two directory snapshots taken immediately before
// and after the process runs. Every reference carries a storage path
// relative to the session workspace root, never an absolute host path.
package artifacts
