package runtimes

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/rhuss/antwort-sandbox/pkg/api"
)

// Placeholders substituted in install command templates.
const (
	PlaceholderTarget  = "{target}"
	PlaceholderPackage = "{package}"
	PlaceholderIndex   = "{index}"
)

// Definition describes one runtime.
type Definition struct {
	Runtime api.Runtime
	// Interpreter is the command a script path is appended to.
	Interpreter []string
	// VersionArgs are appended to Interpreter[0] for the availability probe.
	VersionArgs []string
	// InstallCommand is a template using the placeholders above.
	InstallCommand []string
	// IndexURL is the package index substituted for {index}.
	IndexURL string
	// LibraryEnv names the variable that points the interpreter at the
	// session library directory.
	LibraryEnv string
	// Env is added to every process of this runtime.
	Env []string
}

// Defaults returns the built-in definitions.
func Defaults() map[api.Runtime]Definition {
	return map[api.Runtime]Definition{
		api.RuntimePython: {
			Runtime:        api.RuntimePython,
			Interpreter:    []string{"python3"},
			VersionArgs:    []string{"--version"},
			InstallCommand: []string{"uv", "pip", "install", "--quiet", "--no-config", "--target", PlaceholderTarget, "--index-url", PlaceholderIndex, PlaceholderPackage},
			IndexURL:       "https://pypi.org/simple/",
			LibraryEnv:     "PYTHONPATH",
			Env: []string{
				"PYTHONDONTWRITEBYTECODE=1",
				"PYTHONUNBUFFERED=1",
				"PYTHONNOUSERSITE=1",
				"PYTHONIOENCODING=utf-8",
				"MPLBACKEND=Agg",
			},
		},
		api.RuntimeR: {
			Runtime:        api.RuntimeR,
			Interpreter:    []string{"Rscript", "--vanilla"},
			VersionArgs:    []string{"--version"},
			InstallCommand: []string{"Rscript", "--vanilla", "-e", "install.packages('{package}', lib='{target}', repos='{index}', quiet=TRUE)"},
			IndexURL:       "https://cloud.r-project.org",
			LibraryEnv:     "R_LIBS_USER",
			Env: []string{
				"R_ENVIRON_USER=/dev/null",
				"R_PROFILE_USER=/dev/null",
			},
		},
	}
}

// Override is a partial definition read from configuration. Empty fields
// keep the default.
type Override struct {
	Interpreter    []string
	InstallCommand []string
	IndexURL       string
	Env            []string
}

// Apply returns defs with overrides merged in. Overrides for unknown
// runtimes are an error.
func Apply(defs map[api.Runtime]Definition, overrides map[api.Runtime]Override) (map[api.Runtime]Definition, error) {
	out := maps.Clone(defs)
	for rt, o := range overrides {
		d, ok := out[rt]
		if !ok {
			return nil, fmt.Errorf("runtimes: unknown runtime %q", rt)
		}
		if len(o.Interpreter) > 0 {
			d.Interpreter = slices.Clone(o.Interpreter)
		}
		if len(o.InstallCommand) > 0 {
			d.InstallCommand = slices.Clone(o.InstallCommand)
		}
		if o.IndexURL != "" {
			d.IndexURL = o.IndexURL
		}
		if len(o.Env) > 0 {
			d.Env = append(slices.Clone(d.Env), o.Env...)
		}
		out[rt] = d
	}
	return out, nil
}

// Command returns the argv that runs script.
func (d Definition) Command(script string) []string {
	return append(slices.Clone(d.Interpreter), script)
}

// VersionCommand returns the argv of the availability probe.
func (d Definition) VersionCommand() []string {
	return append([]string{d.Interpreter[0]}, d.VersionArgs...)
}

var packageName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// InstallArgs expands the install template for pkg into target.
func (d Definition) InstallArgs(target, pkg string) ([]string, error) {
	if len(d.InstallCommand) == 0 {
		return nil, fmt.Errorf("runtimes: %s has no install command", d.Runtime)
	}
	if !packageName.MatchString(pkg) {
		return nil, fmt.Errorf("runtimes: invalid package name %q", pkg)
	}
	if strings.ContainsAny(target+d.IndexURL, "'\"\\\n") {
		return nil, fmt.Errorf("runtimes: install paths must not contain quotes")
	}
	r := strings.NewReplacer(PlaceholderTarget, target, PlaceholderPackage, pkg, PlaceholderIndex, d.IndexURL)
	args := make([]string, len(d.InstallCommand))
	for i, a := range d.InstallCommand {
		args[i] = r.Replace(a)
	}
	return args, nil
}

// Environment returns the runtime-specific variables for a process whose
// session library lives in libDir.
func (d Definition) Environment(libDir string) []string {
	env := slices.Clone(d.Env)
	if d.LibraryEnv != "" && libDir != "" {
		env = append(env, d.LibraryEnv+"="+libDir)
	}
	return env
}
