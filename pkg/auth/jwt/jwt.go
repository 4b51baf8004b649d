// Package jwt authenticates bearer JWTs, verified either with a shared
// HMAC secret or with RSA keys from a JWKS endpoint.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/antwort-sandbox/pkg/auth"
)

// Config configures the authenticator. Exactly one of Secret and JWKSURL
// must be set.
type Config struct {
	Issuer   string
	Audience string

	// Secret verifies HS256/HS384/HS512 tokens.
	Secret string

	// JWKSURL is fetched for RS256/RS384/RS512 verification keys.
	JWKSURL string

	UserClaim   string // default "sub"
	TenantClaim string // default "tenant_id"
	TierClaim   string // default "tier"
	ScopesClaim string // default "scope"; space-separated string or array

	// Leeway tolerates clock skew on exp/nbf/iat.
	Leeway time.Duration

	CacheTTL   time.Duration // default 1h
	HTTPClient *http.Client
}

var (
	errNoKeySource    = errors.New("jwt: one of secret or jwks_url is required")
	errBothKeySources = errors.New("jwt: secret and jwks_url are mutually exclusive")
)

func (c *Config) defaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
}

// Authenticator validates bearer JWTs.
type Authenticator struct {
	cfg    Config
	jwks   *jwksCache
	parser *jwtlib.Parser
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New returns an authenticator for cfg.
func New(cfg Config) (*Authenticator, error) {
	cfg.defaults()
	switch {
	case cfg.Secret == "" && cfg.JWKSURL == "":
		return nil, errNoKeySource
	case cfg.Secret != "" && cfg.JWKSURL != "":
		return nil, errBothKeySources
	}

	a := &Authenticator{cfg: cfg}
	methods := []string{"HS256", "HS384", "HS512"}
	if cfg.JWKSURL != "" {
		methods = []string{"RS256", "RS384", "RS512"}
		a.jwks = newJWKSCache(cfg.JWKSURL, cfg.HTTPClient, cfg.CacheTTL)
	}
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods(methods),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}
	a.parser = jwtlib.NewParser(opts...)
	return a, nil
}

// Authenticate abstains without a bearer token or when the token is not
// JWT-shaped, so an API key authenticator can handle it.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.Result {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	raw = strings.TrimSpace(raw)
	if !ok || strings.Count(raw, ".") != 2 {
		return auth.Result{Decision: auth.Abstain}
	}

	claims := jwtlib.MapClaims{}
	if _, err := a.parser.ParseWithClaims(raw, claims, a.keyFunc(ctx)); err != nil {
		slog.Debug("jwt rejected", "error", err)
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("invalid token: %w", err)}
	}

	id, err := a.identity(claims)
	if err != nil {
		return auth.Result{Decision: auth.No, Err: err}
	}
	return auth.Result{Decision: auth.Yes, Identity: id}
}

func (a *Authenticator) keyFunc(ctx context.Context) jwtlib.Keyfunc {
	return func(t *jwtlib.Token) (any, error) {
		if a.jwks == nil {
			return []byte(a.cfg.Secret), nil
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return a.jwks.key(ctx, kid)
	}
}

func (a *Authenticator) identity(claims jwtlib.MapClaims) (*auth.Identity, error) {
	subject := stringClaim(claims, a.cfg.UserClaim)
	if subject == "" {
		return nil, fmt.Errorf("token has no %q claim", a.cfg.UserClaim)
	}
	return &auth.Identity{
		Subject:     subject,
		Tenant:      stringClaim(claims, a.cfg.TenantClaim),
		ServiceTier: stringClaim(claims, a.cfg.TierClaim),
		Scopes:      scopes(claims[a.cfg.ScopesClaim]),
	}, nil
}

func stringClaim(claims jwtlib.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}

func scopes(v any) []string {
	switch v := v.(type) {
	case string:
		if f := strings.Fields(v); len(f) > 0 {
			return f
		}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
