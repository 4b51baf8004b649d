package auth

import "context"

type identityKey struct{}

// SetIdentity stores the authenticated identity in the context.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieves the authenticated identity, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	if v, ok := ctx.Value(identityKey{}).(*Identity); ok {
		return v
	}
	return nil
}

// CanInstall reports whether the caller in ctx may request package
// installs. Contexts without an identity (library use, tests) may.
func CanInstall(ctx context.Context) bool {
	id := IdentityFromContext(ctx)
	return id == nil || id.HasScope(ScopeInstall)
}
