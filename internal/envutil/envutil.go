// Package envutil manipulates environment slices in "KEY=value" form.
package envutil

import "strings"

// Key returns the part of e before the first '='.
func Key(e string) string {
	if idx := strings.IndexByte(e, '='); idx >= 0 {
		return e[:idx]
	}
	return e
}

// Set sets or replaces key in env and returns the modified slice.
func Set(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// Get returns the value of key in env.
func Get(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return e[len(prefix):], true
		}
	}
	return "", false
}

// Denied reports whether key matches any of the deny prefixes. Matching is
// case-insensitive because proxy variables exist in both cases.
func Denied(key string, deny []string) bool {
	upper := strings.ToUpper(key)
	for _, p := range deny {
		if strings.HasPrefix(upper, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}

// Filter returns the entries of env whose key is not denied. The input is
// not modified.
func Filter(env []string, deny []string) []string {
	result := make([]string, 0, len(env))
	for _, e := range env {
		if !Denied(Key(e), deny) {
			result = append(result, e)
		}
	}
	return result
}

// Merge overlays additional on base; later keys win and first-seen order is
// kept. A new slice is returned.
func Merge(base, additional []string) []string {
	index := make(map[string]int, len(base)+len(additional))
	result := make([]string, 0, len(base)+len(additional))
	for _, e := range append(append([]string(nil), base...), additional...) {
		k := Key(e)
		if i, ok := index[k]; ok {
			result[i] = e
			continue
		}
		index[k] = len(result)
		result = append(result, e)
	}
	return result
}
