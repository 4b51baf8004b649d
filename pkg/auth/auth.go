package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/rhuss/antwort-sandbox/pkg/debug"
)

// Decision is the vote of one authenticator.
type Decision int

const (
	// Yes means credentials are valid. The chain stops and the identity is used.
	Yes Decision = iota

	// No means credentials are present but invalid. The chain stops and the
	// request is rejected.
	No

	// Abstain means this authenticator cannot handle the credentials type.
	// The chain continues to the next authenticator.
	Abstain
)

// Scopes understood by the sandbox.
const (
	// ScopeInstall allows requests to set allow_install.
	ScopeInstall = "sandbox:install"

	// ScopeAdmin allows deleting any session of the caller's tenant and
	// reading runtime diagnostics. It implies every other scope.
	ScopeAdmin = "sandbox:admin"
)

// Result carries the outcome of an authentication attempt.
type Result struct {
	Decision Decision
	Identity *Identity // set only when Decision == Yes
	Err      error     // set only when Decision == No
}

// Identity is an authenticated caller.
type Identity struct {
	// Subject is the unique identifier (required, non-empty).
	Subject string

	// ServiceTier selects the rate limit.
	ServiceTier string

	Scopes []string

	// Tenant scopes sessions, history and artifacts. Callers of different
	// tenants never see each other's sessions, even with equal ids.
	Tenant string
}

// HasScope reports whether the identity was granted scope.
func (id *Identity) HasScope(scope string) bool {
	if id == nil {
		return false
	}
	return slices.Contains(id.Scopes, scope) || slices.Contains(id.Scopes, ScopeAdmin)
}

// Tier returns the service tier, "default" when unset.
func (id *Identity) Tier() string {
	if id == nil || id.ServiceTier == "" {
		return "default"
	}
	return id.ServiceTier
}

// Authenticator examines request credentials and votes.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Chain evaluates authenticators in order.
type Chain struct {
	Authenticators []Authenticator

	// Anonymous is used when every authenticator abstains. A nil Anonymous
	// rejects such requests.
	Anonymous *Identity
}

// Authenticate runs the chain, stopping on the first Yes or No.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, a := range c.Authenticators {
		if res := a.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}
	if c.Anonymous != nil {
		id := *c.Anonymous
		id.Scopes = slices.Clone(c.Anonymous.Scopes)
		debug.Log("auth", "all authenticators abstained, using anonymous identity", "subject", id.Subject)
		return Result{Decision: Yes, Identity: &id}
	}
	return Result{Decision: No, Err: ErrUnauthenticated}
}
