// Package auth authenticates callers of the sandbox API and limits their
// request rate.
//
// Authentication is a chain of authenticators with three-outcome voting:
// each returns Yes (identity found), No (credentials invalid) or Abstain
// (cannot handle the credentials). When every authenticator abstains, the
// chain's Anonymous identity is used if set; otherwise the request is
// rejected.
//
// Identities carry scopes. Executing code needs no scope; installing
// packages during install-and-retry requires [ScopeInstall]. The middleware
// stores the identity and its tenant in the request context, where the
// coordinator and history store pick up the tenant for isolation.
package auth
