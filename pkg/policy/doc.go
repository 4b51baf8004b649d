// Package policy statically validates source code before any process is
// spawned.
//
// Each runtime has a rule set loaded from YAML (an embedded default plus an
// optional override file): an allow-list of importable packages, a deny
// table of call patterns keyed by symbol, and shims that are prepended to
// allowed sources. Sources are lexed into two views, one with string
// contents blanked (for call rules) and one with strings intact (for
// literal rules such as URLs and absolute paths); comments are removed from
// both.
//
// Every matched rule is reported. A single violation rejects the source.
package policy
