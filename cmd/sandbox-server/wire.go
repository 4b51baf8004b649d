package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/auth"
	"github.com/rhuss/antwort-sandbox/pkg/auth/apikey"
	"github.com/rhuss/antwort-sandbox/pkg/auth/jwt"
	"github.com/rhuss/antwort-sandbox/pkg/config"
	"github.com/rhuss/antwort-sandbox/pkg/engine"
	"github.com/rhuss/antwort-sandbox/pkg/runner"
	"github.com/rhuss/antwort-sandbox/pkg/runtimes"
	"github.com/rhuss/antwort-sandbox/pkg/storage"
	"github.com/rhuss/antwort-sandbox/pkg/storage/memory"
	"github.com/rhuss/antwort-sandbox/pkg/storage/postgres"
)

// maxBindings caps dataset bindings per request.
const maxBindings = 32

// store is a history store the server also health-checks and closes.
type store interface {
	storage.HistoryStore
	HealthCheck(ctx context.Context) error
	Close() error
}

func newStore(ctx context.Context, cfg config.StorageConfig) (store, error) {
	switch cfg.Type {
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("creating postgres store: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres", "max_conns", cfg.Postgres.MaxConns)
		return s, nil
	default:
		slog.Info("storage enabled", "type", "memory", "max_sessions", cfg.MaxSessions)
		return memory.New(cfg.MaxSessions), nil
	}
}

func pathOf(cfg *config.Config) string {
	if cfg.Sandbox.Path != "" {
		return cfg.Sandbox.Path
	}
	return engine.DefaultPath
}

func engineConfig(cfg *config.Config) engine.Config {
	sb := cfg.Sandbox
	return engine.Config{
		WorkspaceRoot:           sb.WorkspaceRoot,
		MaxConcurrentPerSession: sb.MaxConcurrentPerSession,
		MaxConcurrentTotal:      sb.MaxConcurrentTotal,
		DefaultTimeout:          sb.DefaultTimeout,
		Limits: runner.Limits{
			MaxOutputBytes: sb.MaxOutputBytes,
			MemoryBytes:    sb.Limits.MemoryBytes,
			CPUSeconds:     sb.Limits.CPUSeconds,
			FileSizeBytes:  sb.Limits.FileSizeBytes,
			MaxProcesses:   sb.Limits.MaxProcesses,
			IsolateNetwork: sb.IsolateNetwork,
			Filesystem:     confinement(sb),
		},
		LogCapBytes:      sb.LogCapBytes,
		PreviewRows:      sb.PreviewRows,
		ArtifactMaxBytes: sb.ArtifactMaxBytes,
		MaxDatasetBytes:  sb.MaxDatasetBytes,
		Path:             pathOf(cfg),
		PassEnv:          sb.PassEnv,
		KeepHarness:      sb.KeepHarness,
		HistoryLimit:     sb.HistoryLimit,
		Validation: api.ValidationConfig{
			MaxSourceBytes: sb.MaxSourceBytes,
			MaxBindings:    maxBindings,
			MaxTimeoutSecs: int(sb.MaxTimeout.Seconds()),
		},
	}
}

func confinement(sb config.SandboxConfig) *runner.Confinement {
	if sb.Filesystem == config.FilesystemOff {
		return nil
	}
	return &runner.Confinement{
		ReadOnly: sb.ReadOnlyPaths,
		Required: sb.Filesystem == config.FilesystemRequired,
	}
}

func runtimeDefinitions(overrides map[string]config.RuntimeConfig) (map[api.Runtime]runtimes.Definition, error) {
	ov := make(map[api.Runtime]runtimes.Override, len(overrides))
	for name, rc := range overrides {
		ov[api.Runtime(name)] = runtimes.Override{
			Interpreter:    rc.Interpreter,
			InstallCommand: rc.InstallCommand,
			IndexURL:       rc.IndexURL,
			Env:            rc.Env,
		}
	}
	return runtimes.Apply(runtimes.Defaults(), ov)
}

// authChain builds the authenticator chain for the configured type. With
// type "none" every request gets the anonymous identity.
func authChain(cfg config.AuthConfig) (*auth.Chain, error) {
	switch cfg.Type {
	case "apikey":
		keys := make([]apikey.Key, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			keys = append(keys, apikey.Key{
				Key: k.Key,
				Identity: auth.Identity{
					Subject:     k.Subject,
					Tenant:      k.TenantID,
					ServiceTier: k.ServiceTier,
					Scopes:      k.Scopes,
				},
			})
		}
		slog.Info("authentication enabled", "type", "apikey", "keys", len(keys))
		return &auth.Chain{Authenticators: []auth.Authenticator{apikey.New(keys)}}, nil

	case "jwt":
		a, err := jwt.New(jwt.Config{
			Issuer:      cfg.JWT.Issuer,
			Audience:    cfg.JWT.Audience,
			Secret:      cfg.JWT.Secret,
			JWKSURL:     cfg.JWT.JWKSURL,
			TenantClaim: cfg.JWT.TenantClaim,
			ScopesClaim: cfg.JWT.ScopesClaim,
			Leeway:      cfg.JWT.Leeway,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("authentication enabled", "type", "jwt", "issuer", cfg.JWT.Issuer)
		return &auth.Chain{Authenticators: []auth.Authenticator{a}}, nil

	default:
		return &auth.Chain{Anonymous: &auth.Identity{
			Subject: "anonymous",
			Scopes:  cfg.AnonymousScopes,
		}}, nil
	}
}

func rateLimiter(cfg config.RateLimitConfig) *auth.TokenBucketLimiter {
	tiers := make(map[string]auth.TierConfig, len(cfg.Tiers))
	for name, t := range cfg.Tiers {
		tiers[name] = auth.TierConfig{RequestsPerMinute: t.RequestsPerMinute, Burst: t.Burst}
	}
	return auth.NewTokenBucketLimiter(tiers, auth.TierConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		Burst:             cfg.Burst,
	})
}
