package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// Every failure is reported with its field path.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port must be in 1..65535, got %d", c.Server.Port)
	}

	s := c.Sandbox
	if s.WorkspaceRoot == "" {
		add("sandbox.workspace_root is required")
	}
	if s.DefaultTimeout <= 0 {
		add("sandbox.default_timeout must be > 0, got %s", s.DefaultTimeout)
	}
	if s.MaxTimeout < s.DefaultTimeout {
		add("sandbox.max_timeout (%s) must be >= sandbox.default_timeout (%s)", s.MaxTimeout, s.DefaultTimeout)
	}
	if s.MaxConcurrentPerSession < 1 {
		add("sandbox.max_concurrent_per_session must be >= 1, got %d", s.MaxConcurrentPerSession)
	}
	if s.MaxConcurrentTotal < 0 {
		add("sandbox.max_concurrent_total must be >= 0, got %d", s.MaxConcurrentTotal)
	}
	if s.MaxConcurrentTotal > 0 && s.MaxConcurrentTotal < s.MaxConcurrentPerSession {
		add("sandbox.max_concurrent_total (%d) must be >= sandbox.max_concurrent_per_session (%d)",
			s.MaxConcurrentTotal, s.MaxConcurrentPerSession)
	}
	if s.MaxOutputBytes <= 0 {
		add("sandbox.max_output_bytes must be > 0, got %d", s.MaxOutputBytes)
	}
	if s.LogCapBytes <= 0 {
		add("sandbox.log_cap_bytes must be > 0, got %d", s.LogCapBytes)
	}
	if s.PreviewRows <= 0 {
		add("sandbox.preview_rows must be > 0, got %d", s.PreviewRows)
	}
	if s.ArtifactMaxBytes < 0 || s.MaxDatasetBytes < 0 || s.MaxSourceBytes < 0 {
		add("sandbox size limits must not be negative")
	}
	switch s.Filesystem {
	case FilesystemOff, FilesystemBestEffort, FilesystemRequired:
	default:
		add("sandbox.filesystem must be \"off\", \"best_effort\" or \"required\", got %q", s.Filesystem)
	}
	for _, p := range s.ReadOnlyPaths {
		if !filepath.IsAbs(p) {
			add("sandbox.read_only_paths: %q is not absolute", p)
		}
	}

	for name, rt := range c.Runtimes {
		switch name {
		case "python", "r":
		default:
			add("runtimes.%s: unknown runtime, must be \"python\" or \"r\"", name)
		}
		if len(rt.InstallCommand) > 0 && !containsPlaceholder(rt.InstallCommand) {
			add("runtimes.%s.install_command must contain {package}", name)
		}
	}

	if c.Install.Enabled && c.Install.Timeout <= 0 {
		add("install.timeout must be > 0 when install is enabled, got %s", c.Install.Timeout)
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			add("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\"")
		}
	default:
		add("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type)
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			add("auth.api_keys must not be empty when auth.type is \"apikey\"")
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				add("auth.api_keys[%d]: key or key_file is required", i)
			}
			if k.Subject == "" {
				add("auth.api_keys[%d].subject is required", i)
			}
		}
	case "jwt":
		j := c.Auth.JWT
		if (j.Secret == "" && j.SecretFile == "") == (j.JWKSURL == "") {
			add("auth.jwt: exactly one of secret/secret_file or jwks_url is required")
		}
	default:
		add("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type)
	}
	if c.Auth.RateLimit.Enabled && c.Auth.RateLimit.RequestsPerMinute <= 0 {
		add("auth.rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
	}

	if c.MCP.Enabled && !strings.HasPrefix(c.MCP.Path, "/") {
		add("mcp.path must start with /, got %q", c.MCP.Path)
	}
	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		add("observability.metrics.path must start with /, got %q", c.Observability.Metrics.Path)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json", "":
	default:
		add("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	return errors.Join(errs...)
}

func containsPlaceholder(args []string) bool {
	for _, a := range args {
		if strings.Contains(a, "{package}") {
			return true
		}
	}
	return false
}
