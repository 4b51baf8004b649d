// Package config provides unified configuration for the sandbox server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (SANDBOX_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the sandbox server.
type Config struct {
	Server        ServerConfig             `yaml:"server"`
	Sandbox       SandboxConfig            `yaml:"sandbox"`
	Runtimes      map[string]RuntimeConfig `yaml:"runtimes"`
	Install       InstallConfig            `yaml:"install"`
	Policy        PolicyConfig             `yaml:"policy"`
	Storage       StorageConfig            `yaml:"storage"`
	Auth          AuthConfig               `yaml:"auth"`
	MCP           MCPConfig                `yaml:"mcp"`
	Observability ObservabilityConfig      `yaml:"observability"`
	Logging       LoggingConfig            `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 15m, covers the longest execution
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
}

// SandboxConfig holds execution settings.
type SandboxConfig struct {
	WorkspaceRoot string `yaml:"workspace_root"` // default: /var/lib/antwort-sandbox/workspaces
	DatasetRoot   string `yaml:"dataset_root"`   // empty disables dataset bindings

	DefaultTimeout time.Duration `yaml:"default_timeout"` // default: 30s
	MaxTimeout     time.Duration `yaml:"max_timeout"`     // default: 10m

	MaxConcurrentPerSession int `yaml:"max_concurrent_per_session"` // default: 1
	MaxConcurrentTotal      int `yaml:"max_concurrent_total"`       // default: 0 (unlimited)

	MaxOutputBytes   int64 `yaml:"max_output_bytes"`   // default: 8 MiB of stdout+stderr
	LogCapBytes      int   `yaml:"log_cap_bytes"`      // default: 64 KiB per stream in results
	PreviewRows      int   `yaml:"preview_rows"`       // default: 20
	ArtifactMaxBytes int64 `yaml:"artifact_max_bytes"` // default: 50 MiB
	MaxDatasetBytes  int64 `yaml:"max_dataset_bytes"`  // default: 512 MiB
	MaxSourceBytes   int   `yaml:"max_source_bytes"`   // default: 1 MiB
	HistoryLimit     int   `yaml:"history_limit"`      // default: 1000

	Limits         LimitsConfig `yaml:"limits"`
	IsolateNetwork bool         `yaml:"isolate_network"`

	// Filesystem confines executions to their own directory with Landlock:
	// "best_effort" (default) runs unconfined on kernels without Landlock,
	// "required" fails such executions, "off" disables confinement.
	Filesystem    string   `yaml:"filesystem"`
	ReadOnlyPaths []string `yaml:"read_only_paths"` // extra directories confined code may read

	Path        string   `yaml:"path"`
	PassEnv     []string `yaml:"pass_env"`
	KeepHarness bool     `yaml:"keep_harness"`
}

// Filesystem confinement modes.
const (
	FilesystemOff        = "off"
	FilesystemBestEffort = "best_effort"
	FilesystemRequired   = "required"
)

// LimitsConfig holds per-process resource limits. Zero leaves a limit unset.
type LimitsConfig struct {
	MemoryBytes   uint64 `yaml:"memory_bytes"`    // default: 2 GiB
	CPUSeconds    uint64 `yaml:"cpu_seconds"`     // default: 0, the wall clock timeout applies
	FileSizeBytes uint64 `yaml:"file_size_bytes"` // default: 1 GiB
	MaxProcesses  uint64 `yaml:"max_processes"`   // default: 0
}

// RuntimeConfig overrides the built-in definition of one runtime.
type RuntimeConfig struct {
	Interpreter    []string `yaml:"interpreter"`
	InstallCommand []string `yaml:"install_command"`
	IndexURL       string   `yaml:"index_url"`
	Env            []string `yaml:"env"`
}

// InstallConfig controls install-and-retry.
type InstallConfig struct {
	Enabled bool          `yaml:"enabled"` // default: true
	Timeout time.Duration `yaml:"timeout"` // default: 2m
}

// PolicyConfig points at an optional rules file merged over the built-in
// rule table.
type PolicyConfig struct {
	RulesFile string `yaml:"rules_file"`
}

// StorageConfig holds history store settings.
type StorageConfig struct {
	Type        string         `yaml:"type"`         // "memory" or "postgres", default: "memory"
	MaxSessions int            `yaml:"max_sessions"` // for memory store, default: 10000
	Postgres    PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// AuthConfig holds authentication and rate limit settings.
type AuthConfig struct {
	Type    string         `yaml:"type"`     // "none", "apikey", "jwt", default: "none"
	APIKeys []APIKeyConfig `yaml:"api_keys"` // for type=apikey
	JWT     JWTConfig      `yaml:"jwt"`      // for type=jwt

	// AnonymousScopes are granted when type is "none".
	AnonymousScopes []string `yaml:"anonymous_scopes"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string   `yaml:"key" json:"key"`
	KeyFile     string   `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string   `yaml:"subject" json:"subject"`
	TenantID    string   `yaml:"tenant_id" json:"tenant_id"`
	ServiceTier string   `yaml:"service_tier" json:"service_tier"`
	Scopes      []string `yaml:"scopes" json:"scopes"`
}

// JWTConfig configures bearer JWT validation.
type JWTConfig struct {
	Issuer      string        `yaml:"issuer"`
	Audience    string        `yaml:"audience"`
	JWKSURL     string        `yaml:"jwks_url"`
	Secret      string        `yaml:"secret"`
	SecretFile  string        `yaml:"secret_file"` // _file variant for secret
	TenantClaim string        `yaml:"tenant_claim"`
	ScopesClaim string        `yaml:"scopes_claim"`
	Leeway      time.Duration `yaml:"leeway"`
}

// RateLimitConfig holds per-tier request limits.
type RateLimitConfig struct {
	Enabled           bool                  `yaml:"enabled"`
	RequestsPerMinute int                   `yaml:"requests_per_minute"` // default tier, default: 120
	Burst             int                   `yaml:"burst"`
	Tiers             map[string]TierConfig `yaml:"tiers"`
}

// TierConfig is the limit of one service tier.
type TierConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// MCPConfig holds the MCP tool server settings.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/mcp"
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR, TRACE; default: INFO
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    15 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Sandbox: SandboxConfig{
			WorkspaceRoot:           "/var/lib/antwort-sandbox/workspaces",
			DefaultTimeout:          30 * time.Second,
			MaxTimeout:              10 * time.Minute,
			MaxConcurrentPerSession: 1,
			MaxOutputBytes:          8 << 20,
			LogCapBytes:             64 << 10,
			PreviewRows:             20,
			ArtifactMaxBytes:        50 << 20,
			MaxDatasetBytes:         512 << 20,
			MaxSourceBytes:          1 << 20,
			HistoryLimit:            1000,
			Filesystem:              FilesystemBestEffort,
			Limits: LimitsConfig{
				MemoryBytes:   2 << 30,
				FileSizeBytes: 1 << 30,
			},
		},
		Install: InstallConfig{
			Enabled: true,
			Timeout: 2 * time.Minute,
		},
		Storage: StorageConfig{
			Type:        "memory",
			MaxSessions: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Auth: AuthConfig{
			Type: "none",
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 120,
			},
		},
		MCP: MCPConfig{
			Enabled: true,
			Path:    "/mcp",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}
