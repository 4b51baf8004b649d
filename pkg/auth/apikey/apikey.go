// Package apikey authenticates requests carrying a static API key, either
// as a bearer token or in the X-API-Key header.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rhuss/antwort-sandbox/pkg/auth"
)

// HeaderName is the alternative header for the key.
const HeaderName = "X-API-Key"

// Key is the configuration form of an API key.
type Key struct {
	Key      string
	Identity auth.Identity
}

type entry struct {
	hash     [32]byte
	identity auth.Identity
}

// Authenticator checks keys against a fixed set of SHA-256 hashes. The
// plaintext keys are not retained.
type Authenticator struct {
	keys []entry
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New hashes keys and returns an authenticator. Keys with an empty value
// are skipped.
func New(keys []Key) *Authenticator {
	a := &Authenticator{keys: make([]entry, 0, len(keys))}
	for _, k := range keys {
		if k.Key == "" {
			continue
		}
		a.keys = append(a.keys, entry{hash: sha256.Sum256([]byte(k.Key)), identity: k.Identity})
	}
	return a
}

// Authenticate abstains when no key is presented, or when the bearer token
// looks like a JWT so a later authenticator can handle it.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	key, ok := credential(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if key == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	sum := sha256.Sum256([]byte(key))
	match := -1
	// Every entry is compared so the timing does not reveal the position.
	for i := range a.keys {
		if subtle.ConstantTimeCompare(sum[:], a.keys[i].hash[:]) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}
	id := a.keys[match].identity
	id.Scopes = append([]string(nil), id.Scopes...)
	return auth.Result{Decision: auth.Yes, Identity: &id}
}

func credential(r *http.Request) (string, bool) {
	if v := r.Header.Get(HeaderName); v != "" {
		return strings.TrimSpace(v), true
	}
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") == 2 {
		return "", false
	}
	return token, true
}
