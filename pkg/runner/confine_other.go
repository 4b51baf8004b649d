//go:build !linux

package runner

import (
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
)

var warnUnconfined = sync.OnceFunc(func() {
	slog.Warn("filesystem confinement needs landlock, executions are not confined to their directory")
})

type helper struct{}

// confine only reports that confinement is unavailable; Landlock is
// Linux-only.
func confine(_ *exec.Cmd, spec Spec) (*helper, error) {
	fs := spec.Limits.Filesystem
	if fs == nil {
		return nil, nil
	}
	if fs.Required {
		return nil, fmt.Errorf("%w: not supported on this platform", ErrConfinement)
	}
	warnUnconfined()
	return nil, nil
}

func (h *helper) handOff() error { return nil }

func (h *helper) abort() {}

// MaybeInit is a no-op where processes are never confined.
func MaybeInit() {}
