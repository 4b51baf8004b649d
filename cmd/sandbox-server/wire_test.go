package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/auth"
	"github.com/rhuss/antwort-sandbox/pkg/config"
	"github.com/rhuss/antwort-sandbox/pkg/storage/memory"
)

func TestAuthChainNone(t *testing.T) {
	chain, err := authChain(config.AuthConfig{Type: "none", AnonymousScopes: []string{auth.ScopeInstall}})
	if err != nil {
		t.Fatal(err)
	}
	res := chain.Authenticate(context.Background(), httptest.NewRequest("GET", "/v1/runtimes", nil))
	if res.Decision != auth.Yes {
		t.Fatalf("decision = %v", res.Decision)
	}
	if res.Identity.Subject != "anonymous" || !res.Identity.HasScope(auth.ScopeInstall) {
		t.Errorf("identity = %+v", res.Identity)
	}
}

func TestAuthChainAPIKey(t *testing.T) {
	chain, err := authChain(config.AuthConfig{
		Type: "apikey",
		APIKeys: []config.APIKeyConfig{
			{Key: "secret-1", Subject: "alice", TenantID: "acme", ServiceTier: "gold"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest("GET", "/v1/runtimes", nil)
	r.Header.Set("X-API-Key", "secret-1")
	res := chain.Authenticate(context.Background(), r)
	if res.Decision != auth.Yes || res.Identity.Tenant != "acme" || res.Identity.Tier() != "gold" {
		t.Errorf("result = %+v", res)
	}

	res = chain.Authenticate(context.Background(), httptest.NewRequest("GET", "/v1/runtimes", nil))
	if res.Decision == auth.Yes {
		t.Error("request without a key must not authenticate")
	}
}

func TestAuthChainJWTRequiresKeySource(t *testing.T) {
	if _, err := authChain(config.AuthConfig{Type: "jwt"}); err == nil {
		t.Fatal("expected error without secret or jwks_url")
	}
	if _, err := authChain(config.AuthConfig{Type: "jwt", JWT: config.JWTConfig{Secret: "s3cret"}}); err != nil {
		t.Fatalf("secret-only jwt: %v", err)
	}
}

func TestRuntimeDefinitions(t *testing.T) {
	defs, err := runtimeDefinitions(map[string]config.RuntimeConfig{
		"python": {Interpreter: []string{"/opt/py/bin/python3", "-I"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := defs[api.RuntimePython].Interpreter[0]; got != "/opt/py/bin/python3" {
		t.Errorf("python interpreter = %q", got)
	}
	if len(defs[api.RuntimeR].Interpreter) == 0 {
		t.Error("r definition should keep its default")
	}

	if _, err := runtimeDefinitions(map[string]config.RuntimeConfig{"julia": {}}); err == nil {
		t.Error("unknown runtime override should fail")
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Sandbox.IsolateNetwork = true
	cfg.Sandbox.MaxTimeout = 2 * time.Minute

	ec := engineConfig(&cfg)
	if !ec.Limits.IsolateNetwork || ec.Limits.MemoryBytes != 2<<30 {
		t.Errorf("limits = %+v", ec.Limits)
	}
	if ec.Validation.MaxTimeoutSecs != 120 || ec.Validation.MaxSourceBytes != 1<<20 {
		t.Errorf("validation = %+v", ec.Validation)
	}
	if ec.Path == "" {
		t.Error("path should default")
	}
	if fs := ec.Limits.Filesystem; fs == nil || fs.Required {
		t.Errorf("default filesystem confinement = %+v, want best effort", fs)
	}
}

func TestEngineConfigFilesystem(t *testing.T) {
	tests := []struct {
		mode     string
		confined bool
		required bool
	}{
		{config.FilesystemOff, false, false},
		{config.FilesystemBestEffort, true, false},
		{config.FilesystemRequired, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Sandbox.Filesystem = tt.mode
			cfg.Sandbox.ReadOnlyPaths = []string{"/opt/R"}
			fs := engineConfig(&cfg).Limits.Filesystem
			if (fs != nil) != tt.confined {
				t.Fatalf("confinement = %+v, want confined=%v", fs, tt.confined)
			}
			if fs == nil {
				return
			}
			if fs.Required != tt.required || len(fs.ReadOnly) != 1 || fs.ReadOnly[0] != "/opt/R" {
				t.Errorf("confinement = %+v", fs)
			}
		})
	}
}

func TestNewStoreMemory(t *testing.T) {
	s, err := newStore(context.Background(), config.StorageConfig{Type: "memory", MaxSessions: 5})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, ok := s.(*memory.Store); !ok {
		t.Errorf("store = %T", s)
	}
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("health: %v", err)
	}
}

func TestRateLimiterTiers(t *testing.T) {
	l := rateLimiter(config.RateLimitConfig{
		RequestsPerMinute: 60,
		Burst:             1,
		Tiers:             map[string]config.TierConfig{"unlimited": {RequestsPerMinute: 0}},
	})
	ctx := context.Background()

	basic := &auth.Identity{Subject: "bob"}
	if err := l.Allow(ctx, basic); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := l.Allow(ctx, basic); err == nil {
		t.Error("second request should exceed a burst of 1")
	}

	vip := &auth.Identity{Subject: "carol", ServiceTier: "unlimited"}
	for i := 0; i < 5; i++ {
		if err := l.Allow(ctx, vip); err != nil {
			t.Fatalf("unlimited tier rejected: %v", err)
		}
	}
}
