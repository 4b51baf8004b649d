package engine

import (
	"time"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/prepare"
	"github.com/rhuss/antwort-sandbox/pkg/runner"
)

// DefaultPath is the PATH given to executed code when none is configured.
const DefaultPath = "/usr/local/bin:/usr/bin:/bin"

// DefaultEnvDeny lists variable prefixes that never reach executed code,
// even when named in PassEnv.
var DefaultEnvDeny = []string{
	"AWS_", "AZURE_", "GOOGLE_", "GCP_", "GCLOUD_", "KUBE", "DOCKER_",
	"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "NO_PROXY", "FTP_PROXY",
	"SSH_", "GIT_", "GITHUB_", "GH_", "NPM_", "PIP_", "UV_", "CONDA_",
	"OPENAI_", "ANTHROPIC_", "HF_", "DATABASE_", "PG", "REDIS_",
	"SANDBOX_", "VAULT_", "TOKEN", "SECRET", "PASSWORD",
}

// Config holds configuration for the coordinator.
type Config struct {
	// WorkspaceRoot holds one directory per session.
	WorkspaceRoot string

	// MaxConcurrentPerSession is the per-session ceiling. Zero means 1.
	MaxConcurrentPerSession int

	// MaxConcurrentTotal caps subprocesses across all sessions. Zero
	// disables the host-wide cap.
	MaxConcurrentTotal int

	// DefaultTimeout applies when a request omits timeout_seconds.
	DefaultTimeout time.Duration

	// Limits bound every execution. Limits.Timeout is replaced by the
	// request timeout.
	Limits runner.Limits

	// LogCapBytes bounds stdout_log and stderr_log in results.
	LogCapBytes int

	// PreviewRows bounds table previews.
	PreviewRows int

	// ArtifactMaxBytes is the size above which artifacts are reported as
	// metadata only. Zero disables the ceiling.
	ArtifactMaxBytes int64

	// MaxDatasetBytes bounds a single staged dataset. Zero is unlimited.
	MaxDatasetBytes int64

	// Path is the PATH of executed code.
	Path string

	// PassEnv names host variables forwarded to executed code, subject to
	// EnvDeny.
	PassEnv []string
	EnvDeny []string

	// KeepHarness keeps the generated harness and staged datasets after an
	// execution finishes. Execution directories themselves live until the
	// session is deleted, since artifacts are served from them.
	KeepHarness bool

	// HistoryLimit bounds the in-memory history of one session; the oldest
	// entries are dropped first. Zero means 1000.
	HistoryLimit int

	Validation api.ValidationConfig
}

func (c Config) maxPerSession() int {
	if c.MaxConcurrentPerSession <= 0 {
		return 1
	}
	return c.MaxConcurrentPerSession
}

func (c Config) defaultTimeout() time.Duration {
	if c.DefaultTimeout <= 0 {
		return 30 * time.Second
	}
	return c.DefaultTimeout
}

func (c Config) logCap() int {
	if c.LogCapBytes <= 0 {
		return 64 * 1024
	}
	return c.LogCapBytes
}

func (c Config) previewRows() int {
	if c.PreviewRows <= 0 {
		return prepare.DefaultPreviewRows
	}
	return c.PreviewRows
}

func (c Config) historyLimit() int {
	if c.HistoryLimit <= 0 {
		return 1000
	}
	return c.HistoryLimit
}

func (c Config) path() string {
	if c.Path == "" {
		return DefaultPath
	}
	return c.Path
}

func (c Config) envDeny() []string {
	if c.EnvDeny == nil {
		return DefaultEnvDeny
	}
	return c.EnvDeny
}

func (c Config) validation() api.ValidationConfig {
	if c.Validation == (api.ValidationConfig{}) {
		return api.DefaultValidationConfig()
	}
	return c.Validation
}
