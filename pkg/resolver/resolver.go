// Package resolver recovers from a missing-package failure by installing
// the package into the session library and running the request once more.
package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/debug"
	"github.com/rhuss/antwort-sandbox/pkg/observability"
	"github.com/rhuss/antwort-sandbox/pkg/runner"
	"github.com/rhuss/antwort-sandbox/pkg/runtimes"
)

// ErrInstallFailed wraps every failed install.
var ErrInstallFailed = errors.New("package install failed")

var missingPatterns = map[api.Runtime]*regexp.Regexp{
	api.RuntimePython: regexp.MustCompile(`No module named '([A-Za-z_][A-Za-z0-9_.]*)'`),
	api.RuntimeR:      regexp.MustCompile(`there is no package called [‘'"]([A-Za-z][A-Za-z0-9.]*)[’'"]`),
}

// MissingPackage extracts the name of a package the interpreter could not
// find. For Python the top-level module is returned.
func MissingPackage(rt api.Runtime, stderr []byte) (string, bool) {
	re, ok := missingPatterns[rt]
	if !ok {
		return "", false
	}
	all := re.FindAllSubmatch(stderr, -1)
	if len(all) == 0 {
		return "", false
	}
	name := string(all[len(all)-1][1])
	if rt == api.RuntimePython {
		name, _, _ = strings.Cut(name, ".")
	}
	return name, true
}

// Allowlist maps an import name to an installable package name. The second
// result is false for packages that may not be installed.
type Allowlist interface {
	InstallName(rt api.Runtime, name string) (string, bool)
}

// Config bounds installs.
type Config struct {
	Enabled bool
	Timeout time.Duration
	// Limits apply to the install process. Network isolation is always off
	// for installs since they must reach the package index.
	Limits runner.Limits
}

// Failure is the first attempt's outcome as seen by the resolver.
type Failure struct {
	Status api.Status
	Stderr []byte
}

// Workspace says where to install and with which environment.
type Workspace struct {
	Dir    string
	LibDir string
	Env    []string
}

// RerunFunc runs the request again after a successful install.
type RerunFunc func(ctx context.Context) (*api.ExecutionResult, error)

// Resolver performs the install-and-retry recovery.
type Resolver struct {
	runner runner.Runner
	defs   map[api.Runtime]runtimes.Definition
	allow  Allowlist
	cfg    Config

	// installs coalesces concurrent installs of one package into one
	// library directory.
	installs singleflight.Group
}

// New returns a Resolver.
func New(r runner.Runner, defs map[api.Runtime]runtimes.Definition, allow Allowlist, cfg Config) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	cfg.Limits.Timeout = cfg.Timeout
	cfg.Limits.IsolateNetwork = false
	return &Resolver{runner: r, defs: defs, allow: allow, cfg: cfg}
}

// Eligible reports whether f can be recovered by installing a package and
// returns the installable package name. A request is eligible only once.
func (r *Resolver) Eligible(req *api.ExecutionRequest, f Failure) (string, bool) {
	if r == nil || !r.cfg.Enabled || !req.AllowInstall || f.Status != api.StatusRuntimeError {
		return "", false
	}
	if req.Recoveries() >= api.MaxRecoveries {
		return "", false
	}
	name, ok := MissingPackage(req.Runtime, f.Stderr)
	if !ok {
		return "", false
	}
	pkg, ok := r.allow.InstallName(req.Runtime, name)
	if !ok {
		debug.Log("resolver", "missing package not allow-listed", "runtime", req.Runtime, "package", name)
		return "", false
	}
	return pkg, true
}

// Install runs one time-bounded install of pkg into ws.LibDir through the
// same runner and environment restrictions as user code. Concurrent calls
// for the same package and library directory share a single install.
func (r *Resolver) Install(ctx context.Context, rt api.Runtime, pkg string, ws Workspace) error {
	_, err, shared := r.installs.Do(ws.LibDir+"\x00"+pkg, func() (any, error) {
		return nil, r.install(ctx, rt, pkg, ws)
	})
	if shared {
		debug.Log("resolver", "install shared", "runtime", rt, "package", pkg, "lib_dir", ws.LibDir)
	}
	return err
}

func (r *Resolver) install(ctx context.Context, rt api.Runtime, pkg string, ws Workspace) error {
	def, ok := r.defs[rt]
	if !ok {
		return fmt.Errorf("%w: unknown runtime %q", ErrInstallFailed, rt)
	}
	if err := os.MkdirAll(ws.LibDir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	args, err := def.InstallArgs(ws.LibDir, pkg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	start := time.Now()
	out, err := r.runner.Run(ctx, runner.Spec{Command: args, Dir: ws.Dir, Env: ws.Env, Limits: r.cfg.Limits})
	outcome := "installed"
	switch {
	case err != nil:
		outcome = "failed"
		err = fmt.Errorf("%w: %s: %w", ErrInstallFailed, pkg, err)
	case out.TimedOut:
		outcome = "timeout"
		err = fmt.Errorf("%w: %s: timed out after %s", ErrInstallFailed, pkg, r.cfg.Timeout)
	case out.ExitCode != 0 || out.Killed():
		outcome = "failed"
		err = fmt.Errorf("%w: %s: exit code %d: %s", ErrInstallFailed, pkg, out.ExitCode, lastLine(out.Stderr))
	}
	observability.InstallAttemptsTotal.WithLabelValues(string(rt), outcome).Inc()
	slog.Info("package install", "runtime", rt, "package", pkg, "outcome", outcome, "duration_ms", time.Since(start).Milliseconds())
	return err
}

// ResolveAndRetry consumes the request's recovery slot, installs the missing
// package and reruns. It returns the rerun result and true on a completed
// retry. When the request is not eligible, the slot is already spent or
// the install fails, it returns false and the caller keeps the first
// result. The rerun's outcome, whatever it is, is final.
func (r *Resolver) ResolveAndRetry(ctx context.Context, req *api.ExecutionRequest, f Failure, ws Workspace, rerun RerunFunc) (*api.ExecutionResult, bool, error) {
	pkg, ok := r.Eligible(req, f)
	if !ok || !req.ConsumeRecovery() {
		return nil, false, nil
	}
	if err := r.Install(ctx, req.Runtime, pkg, ws); err != nil {
		return nil, false, err
	}
	res, err := rerun(ctx)
	if err != nil {
		return nil, false, err
	}
	res.Recovered = true
	return res, true, nil
}

func lastLine(b []byte) string {
	b = bytes.TrimSpace(b)
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	}
	return debug.Truncate(string(b), 200)
}
